// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers.
// Sem fmt: strconv já cobre inteiros e timestamps.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatUnixCeil formata t em segundos unix arredondando para cima,
// para que o cliente nunca tente antes do reset real.
func formatUnixCeil(t time.Time) string {
	ms := t.UnixMilli()
	sec := ms / 1000
	if ms%1000 > 0 {
		sec++
	}
	return strconv.FormatInt(sec, 10)
}
