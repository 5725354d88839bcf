package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/treeverse/termstore/pkg/revision"
)

//go:generate go run github.com/golang/mock/mockgen -source=processor.go -destination=mock/processor.go -package=mock

// Processor derives index mutations from a pending commit.  A processor instance serves a
// single commit attempt.
type Processor interface {
	Process(ctx context.Context, batch *Batch, snapshot Snapshot) error
	NewMappings() map[Key]Document
	ChangedMappings() map[Key]Change
	Deletions() []Key
	Description() string
}

// ProcessorFactory creates the processor instance used by one commit attempt.
type ProcessorFactory func() Processor

// ProcessorBase collects mappings for processors embedding it.
type ProcessorBase struct {
	cs *ChangeSet
}

func NewProcessorBase(description string) ProcessorBase {
	return ProcessorBase{cs: NewChangeSet(description)}
}

func (b *ProcessorBase) MapNew(doc Document) error       { return b.cs.AddNew(doc) }
func (b *ProcessorBase) MapChanged(c Change) error       { return b.cs.AddChanged(c) }
func (b *ProcessorBase) MapDeleted(k Key) error          { return b.cs.AddDeleted(k) }
func (b *ProcessorBase) NewMappings() map[Key]Document   { return b.cs.New }
func (b *ProcessorBase) ChangedMappings() map[Key]Change { return b.cs.Changed }
func (b *ProcessorBase) Deletions() []Key                { return b.cs.Deletions() }
func (b *ProcessorBase) Description() string             { return b.cs.Description }

// ObjectProcessor projects every changed object to a document of its own type keyed by
// its object id.  New objects are mapped new, dirty objects changed against their
// indexed projection and detached objects deleted.
type ObjectProcessor struct {
	ProcessorBase
}

const ObjectProcessorDescription = "objects"

func NewObjectProcessor() Processor {
	return &ObjectProcessor{ProcessorBase: NewProcessorBase(ObjectProcessorDescription)}
}

func ObjectKey(c revision.Change) Key {
	return Key{Type: c.Type, ID: c.ObjectID.String()}
}

func (p *ObjectProcessor) Process(ctx context.Context, batch *Batch, snapshot Snapshot) error {
	for _, c := range batch.Changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		k := ObjectKey(c)
		doc := Document{Key: k, Fields: c.Fields}
		var err error
		switch c.Kind {
		case revision.ChangeNew:
			err = p.MapNew(doc)
		case revision.ChangeDirty:
			var old *Document
			old, err = snapshot.Get(ctx, k)
			switch {
			case errors.Is(err, ErrNotFound):
				err = p.MapNew(doc)
			case err == nil:
				err = p.MapChanged(Change{Old: *old, New: doc})
			}
		case revision.ChangeDetached:
			err = p.MapDeleted(k)
		default:
			err = fmt.Errorf("%w: change kind %s", ErrInvalidKey, c.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", c.Kind, k, err)
		}
	}
	return nil
}
