package provider

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/mod/semver"
)

func authorityKey(authority string) string {
	return "authority." + authority
}

// Install registers authority with the given semantic version (e.g. "v1.4.0").
// Installing an already installed authority updates its version.
func (s *Store) Install(ctx context.Context, authority, version string) error {
	if authority == "" {
		return fmt.Errorf("authority cannot be empty")
	}
	if !semver.IsValid(version) {
		return fmt.Errorf("invalid provider version %q for %s", version, authority)
	}
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, authorityKey(authority), version)
	if err != nil {
		return fmt.Errorf("failed to install authority %s: %w", authority, err)
	}
	return nil
}

// Uninstall removes authority. Data stays in place but is no longer reachable
// through that authority.
func (s *Store) Uninstall(ctx context.Context, authority string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, authorityKey(authority)); err != nil {
		return fmt.Errorf("failed to uninstall authority %s: %w", authority, err)
	}
	return nil
}

// InstalledVersion returns the version authority was installed with.
func (s *Store) InstalledVersion(ctx context.Context, authority string) (string, bool, error) {
	var version string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, authorityKey(authority)).Scan(&version)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read authority %s: %w", authority, err)
	}
	return version, true, nil
}

// Authorities is the outcome of the provider capability check.
type Authorities struct {
	// Active is the authority the adapter reads and writes through.
	Active string
	// Observed lists every authority whose changes should be watched.
	Observed []string
	// Available is false when neither authority is installed.
	Available bool
}

// ResolveAuthorities performs the capability check. The primary authority is
// usable when it is installed at minVersion or later; otherwise the adapter
// falls back to the compatibility authority. The compatibility authority is
// always observed, the primary one only when usable.
func (s *Store) ResolveAuthorities(ctx context.Context, primary, compat, minVersion string) (Authorities, error) {
	primaryOK, err := s.canAccess(ctx, primary, minVersion)
	if err != nil {
		return Authorities{}, err
	}
	_, compatOK, err := s.InstalledVersion(ctx, compat)
	if err != nil {
		return Authorities{}, err
	}

	auth := Authorities{Active: compat, Observed: []string{compat}, Available: compatOK}
	if primaryOK {
		auth.Active = primary
		auth.Observed = append(auth.Observed, primary)
		auth.Available = true
	}
	return auth, nil
}

func (s *Store) canAccess(ctx context.Context, authority, minVersion string) (bool, error) {
	if authority == "" {
		return false, nil
	}
	version, ok, err := s.InstalledVersion(ctx, authority)
	if err != nil || !ok {
		return false, err
	}
	if minVersion == "" {
		return true, nil
	}
	if !semver.IsValid(minVersion) {
		return false, fmt.Errorf("invalid minimum provider version %q", minVersion)
	}
	return semver.Compare(version, minVersion) >= 0, nil
}
