package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
)

// Simplified DTOs for the script
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type interaction struct {
	ID          string `json:"id"`
	MessageType string `json:"message_type"`
	MessageArgs struct {
		Content string `json:"content"`
		Actions []struct {
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"actions"`
	} `json:"message_args"`
}

type client struct {
	base  string
	token string
}

func main() {
	base := flag.String("base", "http://localhost:3000", "server address")
	token := flag.String("token", os.Getenv("SIM_TOKEN"), "bearer token when JWT_SECRET is set")
	flag.Parse()

	queries := flag.Args()
	if len(queries) == 0 {
		queries = []string{
			"Which PDC studies cover clear cell renal cell carcinoma?",
			"Show me a heatmap of protein abundance for the top genes in that study",
		}
	}

	c := &client{base: strings.TrimRight(*base, "/"), token: *token}
	fmt.Println("=== BioInsight Simulation Client ===")

	var created struct {
		Id string `json:"id"`
	}
	if err := c.post("/api/sessions", nil, &created); err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	fmt.Printf("Session Created: %s\n", created.Id)

	go c.follow(created.Id)

	for _, q := range queries {
		fmt.Printf("\nUSER: %s\n", q)
		start := time.Now()

		var res struct {
			Response string   `json:"response"`
			Path     []string `json:"path"`
			Retries  int      `json:"retries"`
		}
		if err := c.post("/api/sessions/"+created.Id+"/turns", map[string]string{"query": q}, &res); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("AI (%v, path=%s, retries=%d):\n%s\n", time.Since(start).Round(time.Millisecond), strings.Join(res.Path, ">"), res.Retries, res.Response)
	}
}

// follow prints progress frames and answers interaction requests from stdin.
func (c *client) follow(sessionID string) {
	wsURL := strings.Replace(c.base, "http", "ws", 1) + "/ws/sessions/" + sessionID
	if c.token != "" {
		wsURL += "?token=" + c.token
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Printf("(no progress stream: %v)\n", err)
		return
	}
	defer conn.Close()

	stdin := bufio.NewReader(os.Stdin)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		switch f.Type {
		case "event":
			fmt.Printf("  · %s\n", f.Data)
		case "interaction":
			var req interaction
			if json.Unmarshal(f.Data, &req) != nil {
				continue
			}
			fmt.Printf("\nASSISTANT ASKS: %s\n", req.MessageArgs.Content)
			for _, a := range req.MessageArgs.Actions {
				fmt.Printf("  [%s] %s\n", a.Value, a.Label)
			}
			fmt.Print("> ")
			line, _ := stdin.ReadString('\n')
			answer := map[string]string{"request_id": req.ID, "output": strings.TrimSpace(line)}
			if err := conn.WriteJSON(answer); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

func (c *client) post(path string, body interface{}, out interface{}) error {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewBuffer(b)
	}
	req, _ := http.NewRequest("POST", c.base+path, buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API Error %d: %s", resp.StatusCode, string(b))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
