package provider_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/interpreta/pkg/provider"
)

type keyed struct{ key string }

func (k keyed) CheckCredentials() error {
	if k.key == "" {
		return provider.MissingCredential("keyed")
	}
	return nil
}

func TestCheckCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		v       any
		wantErr bool
	}{
		{name: "no checker", v: struct{}{}},
		{name: "with key", v: keyed{key: "sk"}},
		{name: "without key", v: keyed{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := provider.CheckCredentials("stt", tt.v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckCredentials() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, provider.ErrMissingCredential) {
				t.Errorf("error %v does not wrap ErrMissingCredential", err)
			}
		})
	}
}
