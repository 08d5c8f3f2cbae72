package application

import (
	"fmt"
	"strconv"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultKeyPrefix = "rl"
	// MaxKeyLength limita a chave gravada no store, já com hash tag e sufixo.
	MaxKeyLength = 255
	// storeSuffixLen reserva "{" + "}" + ":sw:" + um bucket int64 com sinal.
	storeSuffixLen = 2 + 4 + 20
	// MaxBaseKeyLength é o limite da chave devolvida por BuildKey.
	MaxBaseKeyLength = MaxKeyLength - storeSuffixLen

	anonymousID = "anonymous"
	unknownID   = "unknown"
)

// BuildKey deriva a chave "{prefix}:{scope}:{identifier}" da requisição.
//
// A saída é sempre segura como chave de store: bytes fora de [A-Za-z0-9._:@/-]
// viram '_' e chaves longas são truncadas com um digest para não colidir.
// Dentro de um identificador ':' também vira '_', então cada parte é um único
// segmento e o reset por identidade não casa prefixos (user "a" x "a:b").
// Escopo desconhecido cai em ip.
func BuildKey(req domain.Request, scope domain.Scope, prefix string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	var id string
	switch scope {
	case domain.ScopeUser:
		id = segment(orDefault(req.UserID, anonymousID))
	case domain.ScopeGlobal:
		id = "global"
	case domain.ScopeEndpoint:
		id = segment(strings.ToUpper(orDefault(req.Method, unknownID))) + ":" + segment(orDefault(req.Path, "/"))
	case domain.ScopeIPUser:
		id = segment(orDefault(req.IP, unknownID)) + ":" + segment(orDefault(req.UserID, anonymousID))
	default:
		scope = domain.ScopeIP
		id = segment(orDefault(req.IP, unknownID))
	}

	return capKey(sanitize(prefix + ":" + string(scope) + ":" + id))
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keyByte(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// segment sanitiza um identificador sem ':' (IPv6 "::1" vira "__1").
func segment(s string) string {
	return strings.ReplaceAll(sanitize(s), ":", "_")
}

func keyByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("._:@/-", c) >= 0
}

func capKey(s string) string {
	if len(s) <= MaxBaseKeyLength {
		return s
	}
	digest := fmt.Sprintf("~%016x", xxhash.Sum64String(s))
	return s[:MaxBaseKeyLength-len(digest)] + digest
}

// counterKey é a chave gravada: "{key}:{kind}[:{bucket}]". A hash tag mantém
// todos os buckets de uma chave no mesmo slot do Redis Cluster.
func counterKey(key, kind string, bucket ...int64) string {
	k := "{" + key + "}:" + kind
	for _, b := range bucket {
		k += ":" + strconv.FormatInt(b, 10)
	}
	return k
}
