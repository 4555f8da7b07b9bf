// Package parsers turns uploaded bank statements into dated monetary movements.
//
// Two statement formats are supported:
//   - OFX, decoded locally (1.x SGML and 2.x XML, with charset handling)
//   - PDF, delegated to an Extractor collaborator that returns structured rows
//
// Decoders are looked up by file type through a Registry:
//
//	registry := parsers.NewDefaultRegistry(extractor)
//	stmt, err := registry.Decode(ctx, raw, models.FileTypeOFX)
//
// The package also contains the CSV parser used to seed the ledger with
// existing entries.
package parsers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

// Statement is the decoded content of one uploaded file
type Statement struct {
	Movements []*models.StatementMovement
	// Meta is nil when the statement exposes no account identifiers
	Meta *models.BankMeta
	// Skipped lists records that were present but could not be read
	Skipped []*errors.RecordError
}

// Decoder decodes the raw bytes of one statement format
type Decoder interface {
	Decode(ctx context.Context, raw []byte) (*Statement, error)
}

// DecoderFunc adapts a function to the Decoder interface
type DecoderFunc func(ctx context.Context, raw []byte) (*Statement, error)

// Decode calls f(ctx, raw)
func (f DecoderFunc) Decode(ctx context.Context, raw []byte) (*Statement, error) {
	return f(ctx, raw)
}

// Registry maps file types to decoders
type Registry struct {
	mu       sync.RWMutex
	decoders map[models.FileType]Decoder
	logger   logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[models.FileType]Decoder),
		logger:   logger.GetGlobalLogger().WithComponent("statement_decoder"),
	}
}

// NewDefaultRegistry registers the OFX decoder and, when extractor is not
// nil, the PDF decoder backed by it.
func NewDefaultRegistry(extractor Extractor) *Registry {
	r := NewRegistry()
	r.Register(models.FileTypeOFX, NewOFXDecoder())
	if extractor != nil {
		r.Register(models.FileTypePDF, NewPDFDecoder(extractor))
	}
	return r
}

// Register adds a decoder. It panics if the file type is already registered.
func (r *Registry) Register(fileType models.FileType, decoder Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decoders[fileType]; exists {
		panic(fmt.Sprintf("parsers: decoder for %q already registered", fileType))
	}
	r.decoders[fileType] = decoder
}

// Supported returns the registered file types in sorted order
func (r *Registry) Supported() []models.FileType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.FileType, 0, len(r.decoders))
	for ft := range r.decoders {
		types = append(types, ft)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Decode decodes raw with the decoder registered for fileType. Every failure
// is returned as a decode-category ReconcilerError.
func (r *Registry) Decode(ctx context.Context, raw []byte, fileType models.FileType) (*Statement, error) {
	r.mu.RLock()
	decoder, ok := r.decoders[fileType]
	r.mu.RUnlock()

	if !ok {
		err := errors.DecodeError(errors.CodeUnsupportedFormat, string(fileType), "", nil).
			WithContext("supported", r.Supported())
		if fileType == models.FileTypePDF {
			err = err.WithSuggestion("set RECONCILER_GEMINI_API_KEY to enable PDF statements, or upload the OFX export")
		}
		return nil, err
	}

	log := r.logger.WithFields(logger.Fields{
		"file_type": fileType,
		"size":      len(raw),
	})
	log.Debug("Decoding statement")

	stmt, err := decoder.Decode(ctx, raw)
	if err != nil {
		log.WithError(err).Warn("Statement decode failed")
		return nil, errors.WrapIfNeeded(err, errors.CategoryDecode, errors.CodeMalformedStatement,
			fmt.Sprintf("cannot decode %s statement", fileType))
	}

	fields := logger.Fields{"movements": len(stmt.Movements)}
	if len(stmt.Skipped) > 0 {
		fields["skipped"] = len(stmt.Skipped)
	}
	log.WithFields(fields).Debug("Statement decoded")

	return stmt, nil
}
