package identity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/piprate/json-gold/ld"

	"github.com/pilacorp/go-ledger-sdk/identity/common/model"
)

// documentLoader caches remote contexts so repeated validations do not
// refetch them.
var documentLoader ld.DocumentLoader = ld.NewCachingDocumentLoader(ld.NewDefaultDocumentLoader(nil))

// validateJSONLD expands the document against its declared contexts and
// fails when they cannot be processed.
func validateJSONLD(doc *model.Document) error {
	if len(doc.Context) == 0 {
		return errors.New("document declares no @context")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to normalize document: %w", err)
	}

	opts := ld.NewJsonLdOptions("")
	opts.DocumentLoader = documentLoader

	if _, err := ld.NewJsonLdProcessor().Expand(generic, opts); err != nil {
		return fmt.Errorf("invalid JSON-LD document: %w", err)
	}
	return nil
}
