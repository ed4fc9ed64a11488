package ptype

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// PluginVersion is a plugin's exported ABI version, read from its
// kplugin_<id>_major/_minor symbols (§4.3). The host's own major version
// must equal a plugin's exactly; Minor may differ without breaking ABI
// compatibility.
type PluginVersion struct {
	Major, Minor uint8
}

// CheckExact enforces spec.md's hard rule: a plugin's major version must
// equal the host's (§4.3 "Version must equal the host's"). It never
// loosens this to a range — semver is used only to produce a clearer
// diagnostic on mismatch, per SPEC_FULL.md §3 (the manifest's optional
// version-range string is a looser contract plugin authors may opt into
// for their own declared constraint, checked separately by
// CheckConstraint; it does not replace this exact check).
func CheckExact(host, plugin PluginVersion) error {
	if host.Major != plugin.Major {
		return fmt.Errorf("plugin ABI major version %d.%d incompatible with host %d.%d",
			plugin.Major, plugin.Minor, host.Major, host.Minor)
	}
	return nil
}

// CheckConstraint reports whether a plugin manifest's optional semver
// range (e.g. ">=v1.2.0") is satisfied by the plugin's reported version,
// formatted as "vMAJOR.MINOR.0" since klish plugins expose only a
// major/minor pair. An empty constraint is always satisfied.
func CheckConstraint(constraint string, v PluginVersion) error {
	if constraint == "" {
		return nil
	}
	vstr := fmt.Sprintf("v%d.%d.0", v.Major, v.Minor)
	if !semver.IsValid(vstr) {
		return fmt.Errorf("plugin version %q is not valid semver", vstr)
	}
	// Manifest constraints are of the form "op version", e.g. ">=v1.2.0".
	op, bound, err := splitConstraint(constraint)
	if err != nil {
		return err
	}
	if !semver.IsValid(bound) {
		return fmt.Errorf("plugin manifest constraint %q: invalid version %q", constraint, bound)
	}
	cmp := semver.Compare(vstr, bound)
	switch op {
	case ">=":
		if cmp < 0 {
			return fmt.Errorf("plugin version %s does not satisfy %s", vstr, constraint)
		}
	case ">":
		if cmp <= 0 {
			return fmt.Errorf("plugin version %s does not satisfy %s", vstr, constraint)
		}
	case "<=":
		if cmp > 0 {
			return fmt.Errorf("plugin version %s does not satisfy %s", vstr, constraint)
		}
	case "<":
		if cmp >= 0 {
			return fmt.Errorf("plugin version %s does not satisfy %s", vstr, constraint)
		}
	case "=", "":
		if cmp != 0 {
			return fmt.Errorf("plugin version %s does not satisfy %s", vstr, constraint)
		}
	default:
		return fmt.Errorf("plugin manifest constraint %q: unknown operator %q", constraint, op)
	}
	return nil
}

func splitConstraint(constraint string) (op, version string, err error) {
	for _, candidate := range []string{">=", "<=", ">", "<", "="} {
		if len(constraint) > len(candidate) && constraint[:len(candidate)] == candidate {
			return candidate, constraint[len(candidate):], nil
		}
	}
	if constraint != "" && constraint[0] == 'v' {
		return "=", constraint, nil
	}
	return "", "", fmt.Errorf("plugin manifest constraint %q: unrecognized format", constraint)
}
