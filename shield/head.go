package shield

import "net/http"

// HeadToGet rewrites HEAD to GET before routing, so handlers bound with
// r.Get answer HEAD probes with 200 instead of 405. net/http strips the
// body from HEAD responses on the way out.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
