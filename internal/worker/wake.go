package worker

import "net/http"

// WakeHandler returns the HTTP endpoint the API process hits after enqueuing
// a job. The call is fire-and-forget on the sender side and always succeeds
// here; losing it only costs one poll interval of latency.
func WakeHandler(w *Worker) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		w.Wake()
		rw.WriteHeader(http.StatusNoContent)
	}
}
