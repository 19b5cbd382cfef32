package middleware

import "net/http"

// ContainerIDHeader identifies the instance that served a response.
const ContainerIDHeader = "X-Container-Id"

// ContainerID stamps every response with the serving host.
func ContainerID(hostname string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(ContainerIDHeader, hostname)
			next.ServeHTTP(w, r)
		})
	}
}
