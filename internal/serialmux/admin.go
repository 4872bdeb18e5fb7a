package serialmux

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

var sendCommandTemplate = template.Must(template.New("send-command").Parse(sendCommandPage))

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutesForMux(mux, s)
}

// AttachAdminRoutesForMux mounts the motor board debug pages for any
// SerialMuxInterface:
//
//	/debug/send-command      form for raw board lines
//	/debug/send-command-api  POST command=<line>
//	/debug/tail              server-sent events of board output
func AttachAdminRoutesForMux(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a raw line to the motor board", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := sendCommandTemplate.Execute(w, nil); err != nil {
			logf("render send-command page: %v", err)
		}
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to serial port", command)
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		serveTail(w, r, s)
	})
}

// serveTail streams board lines as server-sent events until the client
// goes away or the subscription closes.
func serveTail(w http.ResponseWriter, r *http.Request, s SerialMuxInterface) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

const sendCommandPage = `<!DOCTYPE html>
<html>
<head><title>motor board</title></head>
<body>
<h1>Motor board</h1>
<form id="send" method="post" action="send-command-api">
  <input name="command" size="40" placeholder="M 0 0 0 0 0 0 0">
  <button type="submit">Send</button>
</form>
<pre id="result"></pre>
<h2>Tail</h2>
<pre id="tail"></pre>
<script>
document.getElementById("send").addEventListener("submit", async (e) => {
  e.preventDefault();
  const resp = await fetch("send-command-api", {method: "POST", body: new FormData(e.target)});
  document.getElementById("result").textContent = await resp.text();
});
const tail = document.getElementById("tail");
new EventSource("tail").onmessage = (e) => { tail.textContent = e.data + "\n" + tail.textContent; };
</script>
</body>
</html>
`
