// Package defaults captures the baseline configuration of a pool's sessions
// and restores it on sessions a caller has modified.
package defaults

import (
	"context"
	"fmt"
	"maps"
	"time"

	"go.uber.org/multierr"

	"github.com/yuku/connpool/driver"
)

// Flags is a bitmask with one bit per driver.Property.
type Flags uint16

// Bit returns the flag for p.
func Bit(p driver.Property) Flags { return 1 << p }

// Has reports whether the bit for p is set.
func (f Flags) Has(p driver.Property) bool { return f&Bit(p) != 0 }

// Overrides replace captured baselines. Nil fields keep the captured value.
type Overrides struct {
	AutoCommit     *bool
	Isolation      *driver.IsolationLevel
	ReadOnly       *bool
	Holdability    *driver.CursorHoldability
	Catalog        *string
	Schema         *string
	TypeMap        map[string]string
	ClientInfo     map[string]string
	NetworkTimeout *time.Duration
}

// ConfigError reports an invalid override.
type ConfigError struct {
	Property driver.Property
	Value    any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s override: %v", e.Property, e.Value)
}

// placeholders stand in for properties the backend does not support.
var placeholders = [driver.NumProperties]any{
	driver.AutoCommit:     true,
	driver.Isolation:      driver.IsolationNone,
	driver.ReadOnly:       false,
	driver.Holdability:    driver.HoldCursorsOverCommit,
	driver.Catalog:        "",
	driver.Schema:         "",
	driver.TypeMap:        map[string]string(nil),
	driver.ClientInfo:     map[string]string(nil),
	driver.NetworkTimeout: time.Duration(0),
}

// Defaults holds the baseline property values of a pool. It is immutable
// once captured and shared by every session of the pool.
type Defaults struct {
	values    [driver.NumProperties]any
	supported Flags
}

// Capture reads every property from s. A property is supported when it can
// be read and written back; unsupported properties get a placeholder
// baseline and are never touched afterwards.
func Capture(ctx context.Context, s driver.Session, o Overrides) (*Defaults, error) {
	d := &Defaults{values: placeholders}
	for p := range driver.Property(driver.NumProperties) {
		v, err := s.Property(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("failed to read %s: %w", p, err)
			}
			continue
		}
		if err := s.SetProperty(ctx, p, v); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("failed to read %s: %w", p, err)
			}
			continue
		}
		d.values[p] = v
		d.supported |= Bit(p)
	}
	if err := d.override(o); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Defaults) override(o Overrides) error {
	if o.AutoCommit != nil {
		d.values[driver.AutoCommit] = *o.AutoCommit
	}
	if o.Isolation != nil {
		if !o.Isolation.Valid() {
			return &ConfigError{Property: driver.Isolation, Value: int32(*o.Isolation)}
		}
		d.values[driver.Isolation] = *o.Isolation
	}
	if o.ReadOnly != nil {
		d.values[driver.ReadOnly] = *o.ReadOnly
	}
	if o.Holdability != nil {
		if !o.Holdability.Valid() {
			return &ConfigError{Property: driver.Holdability, Value: int32(*o.Holdability)}
		}
		d.values[driver.Holdability] = *o.Holdability
	}
	if o.Catalog != nil {
		d.values[driver.Catalog] = *o.Catalog
	}
	if o.Schema != nil {
		d.values[driver.Schema] = *o.Schema
	}
	if o.TypeMap != nil {
		d.values[driver.TypeMap] = maps.Clone(o.TypeMap)
	}
	if o.ClientInfo != nil {
		d.values[driver.ClientInfo] = maps.Clone(o.ClientInfo)
	}
	if o.NetworkTimeout != nil {
		d.values[driver.NetworkTimeout] = *o.NetworkTimeout
	}
	return nil
}

// Supported returns the properties the backend supports.
func (d *Defaults) Supported() Flags { return d.supported }

// Value returns the baseline of p.
func (d *Defaults) Value(p driver.Property) any { return d.values[p] }

// AutoCommit returns the baseline auto-commit mode.
func (d *Defaults) AutoCommit() bool {
	v, _ := d.values[driver.AutoCommit].(bool)
	return v
}

// Initialize applies every supported baseline to a fresh session and rolls
// back when auto-commit is off, so the session starts with a clean
// transaction.
func (d *Defaults) Initialize(ctx context.Context, s driver.Session) error {
	for p := range driver.Property(driver.NumProperties) {
		if !d.supported.Has(p) {
			continue
		}
		if err := s.SetProperty(ctx, p, d.values[p]); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", p, err)
		}
	}
	if !d.AutoCommit() {
		if err := s.Rollback(ctx); err != nil {
			return fmt.Errorf("failed to roll back new session: %w", err)
		}
	}
	return nil
}

// Set changes p on s and records in dirty whether p now differs from its
// baseline.
func (d *Defaults) Set(ctx context.Context, s driver.Session, dirty *Flags, p driver.Property, v any) error {
	if err := s.SetProperty(ctx, p, v); err != nil {
		return err
	}
	if equal(d.values[p], v) {
		*dirty &^= Bit(p)
	} else {
		*dirty |= Bit(p)
	}
	return nil
}

// Reset returns s to the baseline after a checkout: it rolls back any open
// transaction, clears warnings and restores each supported property marked
// dirty. It returns the cleared flags.
//
// autoCommit is the session's auto-commit mode at the end of the checkout.
func (d *Defaults) Reset(ctx context.Context, s driver.Session, dirty Flags, autoCommit bool) (Flags, error) {
	var errs error
	if !autoCommit {
		if err := s.Rollback(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to roll back: %w", err))
		}
	}
	if wc, ok := s.(driver.WarningClearer); ok {
		if err := wc.ClearWarnings(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to clear warnings: %w", err))
		}
	}
	for p := range driver.Property(driver.NumProperties) {
		if !dirty.Has(p) || !d.supported.Has(p) {
			continue
		}
		if err := s.SetProperty(ctx, p, d.values[p]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to reset %s: %w", p, err))
		}
	}
	return 0, errs
}

func equal(a, b any) bool {
	am, aok := a.(map[string]string)
	bm, bok := b.(map[string]string)
	if aok != bok {
		return false
	}
	if aok {
		return maps.Equal(am, bm)
	}
	return a == b
}
