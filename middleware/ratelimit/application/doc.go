// Package application contém os casos de uso (regras de aplicação) do motor de
// admissão: geração de chaves, estratégias de contagem, composição de escopos,
// ajuste adaptativo, roteamento por (método, caminho), bypass e reset administrativo.
//
// Ele depende apenas do pacote domain (e do CounterStore injetado) e não conhece net/http.
// Ex.: Service.Decide(ctx, req) retorna um Verdict (Result + Config aplicada + cobranças).
package application
