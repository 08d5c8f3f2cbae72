package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Upstream de validação: ecoa o que o gateway repassou, incluindo headers de identidade.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		logger.Info("Alguém acessou o endpoint /showTela", slog.String("remote", r.RemoteAddr))
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method":    r.Method,
			"path":      r.URL.Path,
			"forwarded": r.Header.Get("X-Forwarded-For"),
			"user":      r.Header.Get("X-User-Id"),
			"time":      time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	// status configurável para testar skipFailedRequests: /status?code=500
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		code := http.StatusOK
		if _, err := fmt.Sscanf(r.URL.Query().Get("code"), "%d", &code); err != nil || code < 100 || code > 599 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
	})

	logger.Info("Servidor rodando em http://localhost:8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		logger.Error("Erro ao subir o servidor", slog.Any("error", err))
		os.Exit(1)
	}
}
