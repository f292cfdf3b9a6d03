package archive

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON json.RawMessage
	schemaErr  error
)

// Schema returns the JSON Schema describing a stored shard record.
func Schema() (json.RawMessage, error) {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties:  false,
			DoNotReference:             true,
			RequiredFromJSONSchemaTags: true,
		}
		s := reflector.Reflect(&domain.ShardRecord{})
		s.Title = "TruthShard"
		b, err := s.MarshalJSON()
		if err != nil {
			schemaErr = fmt.Errorf("marshal shard schema: %w", err)
			return
		}
		schemaJSON = b
	})
	return schemaJSON, schemaErr
}
