package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/strangelab/sods-identity-core/internal/observation"
)

// Fingerprint kinds as stored in the registry.
const (
	KindStable = "stable"
	KindAddr   = "addr"
)

// CompanyNone marks the absence of a manufacturer company identifier.
const CompanyNone = -1

// Fingerprints holds the derived identity material for one observation.
//
// Stable is content-derived (services, masked manufacturer data, name
// pattern) and survives address rotation. Addr is derived from the
// advertised address and is only as stable as the address itself.
// At least one of the two is always set; Extract fails otherwise.
type Fingerprints struct {
	// Stable is the hex SHA-256 of the canonical advertisement content,
	// or "" when the observation carried no usable content.
	Stable string

	// Addr is the hex SHA-256 of the address and address type,
	// or "" when the observation carried no usable address.
	Addr string

	// Services is the normalised service UUID list that fed Stable.
	Services []string

	// CompanyID is the manufacturer company identifier, CompanyNone if absent.
	CompanyID int

	// MaskedMfg is the manufacturer data after vendor masking.
	MaskedMfg []byte

	// NamePattern is the normalised name pattern that fed Stable.
	NamePattern string

	// AddrValue and AddrType echo the observation's address fields.
	AddrValue string
	AddrType  string

	// PublicAddr reports whether the address type is public.
	PublicAddr bool
}

// Extract derives fingerprints from a decoded observation.
//
// The stable fingerprint hashes the canonical advertisement content:
// sorted services, company identifier, masked manufacturer data, and the
// name pattern. The address fingerprint hashes the address and its type.
// Manufacturer data is passed through the masker before hashing so that
// rotating payload bytes (counters, nonces) do not fragment identity.
//
// Returns ErrUnavailable when the observation yields neither fingerprint.
func Extract(obs *observation.Observation, masker Masker) (Fingerprints, error) {
	fp := Fingerprints{CompanyID: CompanyNone}

	fp.Services = obs.Services
	fp.NamePattern = Pattern(obs.Name)

	if obs.MfgCompanyID != nil {
		fp.CompanyID = *obs.MfgCompanyID
		fp.MaskedMfg = masker.Mask(fp.CompanyID, obs.MfgDataRaw)
	}

	if len(fp.Services) > 0 || fp.CompanyID != CompanyNone || fp.NamePattern != "" {
		fp.Stable = hashStable(fp.Services, fp.CompanyID, fp.MaskedMfg, fp.NamePattern)
	}

	if obs.HasAddr() {
		fp.AddrValue = obs.Addr
		fp.AddrType = obs.AddrType
		fp.PublicAddr = obs.AddrType == "public"
		fp.Addr = hashAddr(obs.Addr, obs.AddrType)
	}

	if fp.Stable == "" && fp.Addr == "" {
		return fp, ErrUnavailable
	}
	return fp, nil
}

// Primary returns the fingerprint used for identity derivation and
// routing: the stable fingerprint when available, the address
// fingerprint otherwise.
func (f Fingerprints) Primary() string {
	if f.Stable != "" {
		return f.Stable
	}
	return f.Addr
}

// PrimaryKind returns the kind of the primary fingerprint.
func (f Fingerprints) PrimaryKind() string {
	if f.Stable != "" {
		return KindStable
	}
	return KindAddr
}

// hashStable produces the stable fingerprint from canonical content.
// The input string layout is fixed; changing it changes every derived
// device identity.
func hashStable(services []string, companyID int, maskedMfg []byte, namePattern string) string {
	var b strings.Builder
	b.WriteString("svc=")
	b.WriteString(strings.Join(services, ","))
	b.WriteString("|cid=")
	b.WriteString(strconv.Itoa(companyID))
	b.WriteString("|mfg=")
	b.WriteString(hex.EncodeToString(maskedMfg))
	b.WriteString("|name=")
	b.WriteString(namePattern)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// hashAddr produces the address fingerprint.
func hashAddr(addr, addrType string) string {
	input := "addr=" + addr + "|type=" + addrType
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
