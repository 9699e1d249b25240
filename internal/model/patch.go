package model

import (
	"regexp"
	"strings"
)

const (
	scanCodeName      = "ScanCode"
	licenseRefPrefix  = "LicenseRef-"
	scanCodeNamespace = "scancode-"
)

var licenseRefToken = regexp.MustCompile(`LicenseRef-[A-Za-z0-9.\-]+`)

// PatchLegacyLicenseRefs returns a copy of r in which ScanCode license
// references lacking the "scancode-" namespace are rewritten, e.g.
// "LicenseRef-foo" becomes "LicenseRef-scancode-foo". Older ScanCode releases
// emitted the bare form. Results of other scanners are returned unchanged and
// r itself is never modified.
func PatchLegacyLicenseRefs(r ScanResult) (ScanResult, bool) {
	if !strings.EqualFold(r.Scanner.Name, scanCodeName) {
		return r, false
	}

	needsPatch := false
	for _, f := range r.Summary.LicenseFindings {
		if hasLegacyRef(f.License) {
			needsPatch = true
			break
		}
	}
	if !needsPatch {
		return r, false
	}

	out := r.Clone()
	for i := range out.Summary.LicenseFindings {
		f := &out.Summary.LicenseFindings[i]
		f.License = licenseRefToken.ReplaceAllStringFunc(f.License, func(tok string) string {
			rest := strings.TrimPrefix(tok, licenseRefPrefix)
			if strings.HasPrefix(rest, scanCodeNamespace) {
				return tok
			}
			return licenseRefPrefix + scanCodeNamespace + rest
		})
	}
	return out, true
}

func hasLegacyRef(expr string) bool {
	for _, tok := range licenseRefToken.FindAllString(expr, -1) {
		if !strings.HasPrefix(strings.TrimPrefix(tok, licenseRefPrefix), scanCodeNamespace) {
			return true
		}
	}
	return false
}
