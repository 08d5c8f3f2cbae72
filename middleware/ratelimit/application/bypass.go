package application

import (
	"crypto/subtle"
	"net/netip"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	BypassSkip              = "skip"
	BypassPrivilegedRole    = "privileged-role"
	BypassTrustedCredential = "trusted-credential"
	BypassInternalNetwork   = "internal-network"
	BypassHealthCheck       = "health-check"
)

type BypassOptions struct {
	PrivilegedRoles    []string
	TrustedCredentials []string
	// InternalNetworks em notação CIDR (ex: "10.0.0.0/8") ou IP único.
	InternalNetworks []string
	HealthPaths      []string
}

// BypassPolicy decide, antes de qualquer acesso ao store, se a requisição
// ignora o rate limit.
type BypassPolicy struct {
	roles       map[string]bool
	credentials [][]byte
	networks    []netip.Prefix
	health      map[string]bool
}

func NewBypassPolicy(opts BypassOptions) (*BypassPolicy, error) {
	p := &BypassPolicy{
		roles:  make(map[string]bool, len(opts.PrivilegedRoles)),
		health: make(map[string]bool, len(opts.HealthPaths)),
	}
	for _, r := range opts.PrivilegedRoles {
		if r = strings.TrimSpace(r); r != "" {
			p.roles[strings.ToLower(r)] = true
		}
	}
	for _, c := range opts.TrustedCredentials {
		if c = strings.TrimSpace(c); c != "" {
			p.credentials = append(p.credentials, []byte(c))
		}
	}
	for _, n := range opts.InternalNetworks {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		pfx, err := parsePrefix(n)
		if err != nil {
			return nil, &domain.ConfigError{Field: "internalNetworks", Value: n, Reason: err.Error()}
		}
		p.networks = append(p.networks, pfx)
	}
	for _, h := range opts.HealthPaths {
		if h = strings.TrimSpace(h); h != "" {
			p.health[strings.TrimSuffix(h, "/")] = true
		}
	}
	return p, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		pfx, err := netip.ParsePrefix(s)
		return pfx.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Check retorna o motivo do bypass, ou "" quando a requisição deve ser limitada.
func (p *BypassPolicy) Check(req domain.Request, cfg domain.Config) string {
	if cfg.Skip != nil && cfg.Skip.Skip(req) {
		return BypassSkip
	}
	if p == nil {
		return ""
	}
	if req.Role != "" && p.roles[strings.ToLower(req.Role)] {
		return BypassPrivilegedRole
	}
	if req.Credential != "" && p.trusted(req.Credential) {
		return BypassTrustedCredential
	}
	if len(p.networks) > 0 && p.internal(req.IP) {
		return BypassInternalNetwork
	}
	if len(p.health) > 0 && p.health[strings.TrimSuffix(req.Path, "/")] {
		return BypassHealthCheck
	}
	return ""
}

// trusted compara contra todas as credenciais em tempo constante.
func (p *BypassPolicy) trusted(cred string) bool {
	presented := []byte(cred)
	match := 0
	for _, c := range p.credentials {
		match |= subtle.ConstantTimeCompare(presented, c)
	}
	return match == 1
}

func (p *BypassPolicy) internal(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, n := range p.networks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}
