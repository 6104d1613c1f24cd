package kernel

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"otogi-invite/pkg/otogi"
)

func TestServiceRegistryRegister(t *testing.T) {
	t.Parallel()

	var nilStore *struct{}
	var nilFunc func()

	tests := []struct {
		name    string
		prepare map[string]any
		key     string
		service any
		wantErr error
		wantAny bool
	}{
		{name: "registers service", key: "invite.store", service: "sqlite"},
		{
			name:    "name already taken",
			prepare: map[string]any{"invite.store": "json"},
			key:     "invite.store",
			service: "sqlite",
			wantErr: otogi.ErrServiceAlreadyRegistered,
		},
		{name: "empty name", key: "", service: "sqlite", wantAny: true},
		{name: "untyped nil", key: "invite.store", service: nil, wantAny: true},
		{name: "typed nil pointer", key: "invite.store", service: nilStore, wantAny: true},
		{name: "nil func", key: "invite.hook", service: nilFunc, wantAny: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry := NewServiceRegistry()
			for name, service := range testCase.prepare {
				if err := registry.Register(name, service); err != nil {
					t.Fatalf("prepare %s: %v", name, err)
				}
			}

			err := registry.Register(testCase.key, testCase.service)
			switch {
			case testCase.wantErr != nil:
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("error = %v, want %v", err, testCase.wantErr)
				}
				return
			case testCase.wantAny:
				if err == nil {
					t.Fatal("expected register error")
				}
				return
			case err != nil:
				t.Fatalf("register: %v", err)
			}

			resolved, err := registry.Resolve(testCase.key)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if resolved != testCase.service {
				t.Fatalf("resolved = %v, want %v", resolved, testCase.service)
			}
		})
	}
}

func TestServiceRegistryResolveMissing(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	if _, err := registry.Resolve("invite.query"); !errors.Is(err, otogi.ErrServiceNotFound) {
		t.Fatalf("error = %v, want %v", err, otogi.ErrServiceNotFound)
	}
	if _, err := registry.Resolve(""); err == nil {
		t.Fatal("expected empty name error")
	}
	if _, err := otogi.ResolveAs[int](registry, "invite.query"); err == nil {
		t.Fatal("expected typed resolve error")
	}
}

func TestServiceRegistryNamesSorted(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	for _, name := range []string{otogi.ServiceSinkDispatcher, otogi.ServiceLogger, otogi.ServiceMemberDirectory} {
		if err := registry.Register(name, struct{}{}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	want := []string{otogi.ServiceLogger, otogi.ServiceMemberDirectory, otogi.ServiceSinkDispatcher}
	if diff := cmp.Diff(want, registry.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}
