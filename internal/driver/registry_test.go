package driver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"otogi-invite/pkg/otogi"
)

func fakeOneBotRegistry(t *testing.T) *Registry {
	t.Helper()

	registry, err := NewRegistry([]Descriptor{{
		Type:     "onebot",
		Platform: otogi.PlatformOneBot,
		Builder: func(_ context.Context, definition Definition, _ *slog.Logger) (Runtime, error) {
			switch definition.Name {
			case "broken":
				return Runtime{}, errors.New("broken build")
			case "driverless":
				return Runtime{Source: otogi.EventSource{Platform: otogi.PlatformOneBot}}, nil
			}

			return Runtime{
				Source: otogi.EventSource{Platform: otogi.PlatformOneBot},
				Driver: stubDriver{name: definition.Name},
			}, nil
		},
	}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	return registry
}

func TestRegistryBuildEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		definitions []Definition
		wantIDs     []string
		wantErr     string
	}{
		{
			name: "disabled entries skipped and ids defaulted",
			definitions: []Definition{
				{Name: "qq-main", Type: "onebot", Enabled: true, Config: []byte("{}")},
				{Name: "broken", Type: "onebot"},
				{Name: "qq-alt", Type: "onebot", Enabled: true},
			},
			wantIDs: []string{"qq-main", "qq-alt"},
		},
		{
			name:        "builder failure",
			definitions: []Definition{{Name: "broken", Type: "onebot", Enabled: true}},
			wantErr:     "build driver broken type onebot: broken build",
		},
		{
			name:        "builder returns no driver",
			definitions: []Definition{{Name: "driverless", Type: "onebot", Enabled: true}},
			wantErr:     "nil driver",
		},
		{
			name: "duplicate names",
			definitions: []Definition{
				{Name: "qq", Type: "onebot", Enabled: true},
				{Name: "qq", Type: "onebot", Enabled: true},
			},
			wantErr: "duplicate name",
		},
		{
			name:        "unsupported type",
			definitions: []Definition{{Name: "irc", Type: "irc", Enabled: true}},
			wantErr:     "unsupported type",
		},
		{
			name:        "empty name",
			definitions: []Definition{{Type: "onebot", Enabled: true}},
			wantErr:     "empty name",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			runtimes, err := fakeOneBotRegistry(t).BuildEnabled(context.Background(), testCase.definitions, slog.Default())
			if testCase.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("BuildEnabled() error = %v, want %q", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildEnabled() error = %v", err)
			}

			var ids []string
			for _, runtime := range runtimes {
				ids = append(ids, runtime.Source.ID)
			}
			if diff := cmp.Diff(testCase.wantIDs, ids); diff != "" {
				t.Fatalf("runtime ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewRegistryRejectsInvalidDescriptors(t *testing.T) {
	t.Parallel()

	builder := func(context.Context, Definition, *slog.Logger) (Runtime, error) {
		return Runtime{}, nil
	}
	valid := Descriptor{Type: "onebot", Platform: otogi.PlatformOneBot, Builder: builder}
	tests := []struct {
		name        string
		descriptors []Descriptor
		wantErr     string
	}{
		{name: "empty type", descriptors: []Descriptor{{Platform: otogi.PlatformOneBot, Builder: builder}}, wantErr: "empty descriptor type"},
		{name: "empty platform", descriptors: []Descriptor{{Type: "onebot", Builder: builder}}, wantErr: "empty platform"},
		{name: "nil builder", descriptors: []Descriptor{{Type: "onebot", Platform: otogi.PlatformOneBot}}, wantErr: "nil builder"},
		{name: "duplicate type", descriptors: []Descriptor{valid, valid}, wantErr: "duplicate"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewRegistry(testCase.descriptors)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("NewRegistry() error = %v, want %q", err, testCase.wantErr)
			}
		})
	}
}

func TestRegistryPlatformForType(t *testing.T) {
	t.Parallel()

	registry := fakeOneBotRegistry(t)
	platform, err := registry.PlatformForType("onebot")
	if err != nil || platform != otogi.PlatformOneBot {
		t.Fatalf("PlatformForType(onebot) = %q, %v", platform, err)
	}
	if _, err := registry.PlatformForType("irc"); err == nil {
		t.Fatal("PlatformForType(irc) succeeded, want error")
	}

	var missing *Registry
	if types := missing.Types(); types != nil {
		t.Fatalf("nil registry types = %v, want nil", types)
	}
}

type stubDriver struct {
	name string
}

func (d stubDriver) Name() string { return d.name }

func (stubDriver) Start(context.Context, otogi.EventDispatcher) error { return nil }

func (stubDriver) Shutdown(context.Context) error { return nil }
