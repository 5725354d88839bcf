package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/metadata"
)

func TestRegistry(t *testing.T) {
	r := metadata.NewRegistry()
	concept, err := r.Register("Concept",
		metadata.Field{Name: "active", Kind: metadata.KindBool, Required: true},
		metadata.Field{Name: "module", Kind: metadata.KindReference},
	)
	require.NoError(t, err)
	desc, err := r.Register("Description", metadata.Field{Name: "term", Kind: metadata.KindString})
	require.NoError(t, err)
	require.NotEqual(t, concept.ID, desc.ID)

	_, err = r.Register("Concept")
	require.ErrorIs(t, err, metadata.ErrAlreadyRegistered)

	got, err := r.Lookup("Concept")
	require.NoError(t, err)
	require.Same(t, concept, got)
	got, err = r.ByID(desc.ID)
	require.NoError(t, err)
	require.Same(t, desc, got)
	require.Equal(t, []string{"Concept", "Description"}, r.Names())

	r.Clear()
	_, err = r.Lookup("Concept")
	require.ErrorIs(t, err, metadata.ErrUnknownType)
	again, err := r.Register("Concept")
	require.NoError(t, err)
	require.Greater(t, again.ID, desc.ID)
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := metadata.NewRegistry()
	_, err := r.Register("T", metadata.Field{Name: "a"}, metadata.Field{Name: "a"})
	require.ErrorIs(t, err, metadata.ErrInvalidField)
	_, err = r.Register("U", metadata.Field{})
	require.ErrorIs(t, err, metadata.ErrInvalidField)
}

func TestType_Validate(t *testing.T) {
	r := metadata.NewRegistry()
	typ, err := r.Register("Concept",
		metadata.Field{Name: "active", Kind: metadata.KindBool, Required: true},
		metadata.Field{Name: "effective", Kind: metadata.KindTime},
		metadata.Field{Name: "parents", Kind: metadata.KindList},
	)
	require.NoError(t, err)

	tests := []struct {
		name    string
		fields  map[string]interface{}
		wantErr bool
	}{
		{name: "valid", fields: map[string]interface{}{"active": true, "effective": int64(20200131)}},
		{name: "list", fields: map[string]interface{}{"active": false, "parents": []interface{}{"1", "2"}}},
		{name: "missing required", fields: map[string]interface{}{"effective": int64(1)}, wantErr: true},
		{name: "wrong kind", fields: map[string]interface{}{"active": "yes"}, wantErr: true},
		{name: "unknown field", fields: map[string]interface{}{"active": true, "color": "red"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := typ.Validate(tt.fields)
			if tt.wantErr {
				require.ErrorIs(t, err, metadata.ErrInvalidField)
			} else {
				require.NoError(t, err)
			}
		})
	}
	f, ok := typ.Field("active")
	require.True(t, ok)
	require.Equal(t, metadata.KindBool, f.Kind)
}
