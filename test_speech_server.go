package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/panyeroa1/translateq/internal/audio"
)

// wireMessage mirrors the speech service envelope so the test server can
// speak the same protocol the client expects.
type wireMessage struct {
	Type     string          `json:"type"`
	Data     string          `json:"data,omitempty"`
	MimeType string          `json:"mime_type,omitempty"`
	Text     string          `json:"text,omitempty"`
	Final    bool            `json:"final,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// recorder accumulates received PCM so each connection can be saved as a
// WAV file for listening back.
type recorder struct {
	mu  sync.Mutex
	pcm []byte
	n   int
}

func (rec *recorder) append(data []byte) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.pcm = append(rec.pcm, data...)
	return len(rec.pcm)
}

func (rec *recorder) save() {
	rec.mu.Lock()
	pcm := rec.pcm
	rec.pcm = nil
	rec.n++
	n := rec.n
	rec.mu.Unlock()

	if len(pcm) == 0 {
		return
	}

	wav, err := audio.EncodeWAV(pcm, audio.CaptureSampleRate)
	if err != nil {
		log.Printf("❌ Failed to encode WAV: %v", err)
		return
	}
	name := fmt.Sprintf("received-%03d.wav", n)
	if err := os.WriteFile(name, wav, 0o644); err != nil {
		log.Printf("❌ Failed to write %s: %v", name, err)
		return
	}
	log.Printf("💾 Saved received audio: %s (%d bytes)", name, len(wav))
}

func speechHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("🎤 SPEECH SESSION OPENED: %s", r.RemoteAddr)

	rec := &recorder{}
	defer rec.save()

	chunks := 0
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("🔌 Session closed: %v", err)
			return
		}

		switch msg.Type {
		case "audio":
			pcm, err := audio.DecodePayload(msg.Data)
			if err != nil {
				log.Printf("❌ Bad audio payload: %v", err)
				continue
			}
			total := rec.append(pcm)
			chunks++

			// Every few chunks, pretend we heard something
			if chunks%8 == 0 {
				reply := wireMessage{
					Type: "input_transcription",
					Text: fmt.Sprintf("test fragment after %d bytes.", total),
				}
				if err := conn.WriteJSON(reply); err != nil {
					return
				}
				log.Printf("📝 Sent fragment (chunk %d, %d bytes total)", chunks, total)
			}

		case "tool_response":
			log.Printf("🛠️  Tool response for %s: %s", msg.ID, string(msg.Output))

		default:
			log.Printf("❓ Unexpected message type: %s", msg.Type)
		}
	}
}

func logSinkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Error parsing body", http.StatusBadRequest)
		return
	}

	log.Printf("🗒️  SINK DELIVERY RECEIVED:")
	log.Printf("  ═══════════════════════════════════")
	log.Printf("    Session:  %v", payload["session_id"])
	log.Printf("    User:     %v", payload["user_text"])
	log.Printf("    Agent:    %v", payload["agent_text"])
	log.Printf("    Language: %v", payload["language"])
	log.Printf("  ═══════════════════════════════════")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "received_at": time.Now().Format(time.RFC3339)})
}

func webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Error parsing body", http.StatusBadRequest)
		return
	}

	log.Printf("🔔 WEBHOOK: %v [%v] '%v'", payload["type"], payload["meetingId"], payload["text"])

	w.WriteHeader(http.StatusNoContent)
}

func main() {
	http.HandleFunc("/speech", speechHandler)
	http.HandleFunc("/sink/log", logSinkHandler)
	http.HandleFunc("/sink/webhook", webhookHandler)

	port := ":9000"
	log.Printf("🚀 Test Speech Server starting on port %s", port)
	log.Printf("📡 Speech endpoint:  ws://localhost%s/speech", port)
	log.Printf("📡 Logging sink:     http://localhost%s/sink/log", port)
	log.Printf("📡 Webhook sink:     http://localhost%s/sink/webhook", port)
	log.Println("💡 Update your config to use these endpoints")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
