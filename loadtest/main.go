package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL   = flag.String("base", "http://localhost:5001", "server base URL")
	pairCount = flag.Int("pairs", 50, "number of user pairs")
	msgCount  = flag.Int("messages", 20, "messages per user")
)

var languages = []string{"en", "es", "fr", "de", "hi"}

type challenge struct {
	Otp string `json:"otp"`
}

type loginResult struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		ID string `json:"id"`
	} `json:"user"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var (
	sent     atomic.Int64
	received atomic.Int64
	updates  atomic.Int64
)

func main() {
	flag.Parse()
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", *pairCount*2, *msgCount)
	start := time.Now()
	var wg sync.WaitGroup

	// We will create pairs: User 0 talks to User 1, User 2 talks to User 3...
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Printf("✅ LOAD TEST COMPLETE in %s: sent=%d newMessage=%d translationUpdates=%d",
		time.Since(start).Round(time.Millisecond), sent.Load(), received.Load(), updates.Load())
}

func runPair(pairID int) {
	mobileA := fmt.Sprintf("+1555%06d", pairID*2)
	mobileB := fmt.Sprintf("+1555%06d", pairID*2+1)

	a, err := authenticate(mobileA, languages[pairID%len(languages)])
	if err != nil {
		log.Printf("❌ Auth Failed [%s]: %v", mobileA, err)
		return
	}
	b, err := authenticate(mobileB, languages[(pairID+1)%len(languages)])
	if err != nil {
		log.Printf("❌ Auth Failed [%s]: %v", mobileB, err)
		return
	}

	convID, err := createConversation(a.AccessToken, b.User.ID)
	if err != nil {
		log.Printf("❌ Create Chat Failed: %v", err)
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, a, convID, b.User.ID)
	go spamChat(&wsWg, b, convID, a.User.ID)
	wsWg.Wait()
}

// authenticate registers (or logs in when the mobile exists) and redeems the
// development OTP the server returns.
func authenticate(mobile, lang string) (loginResult, error) {
	var ch challenge
	status, err := postJSON("/auth/register", "", map[string]string{
		"mobile": mobile, "name": "Load " + mobile, "preferredLanguage": lang,
	}, &ch)
	if err != nil {
		return loginResult{}, err
	}
	if status == http.StatusConflict {
		if _, err := postJSON("/auth/login", "", map[string]string{"mobile": mobile}, &ch); err != nil {
			return loginResult{}, err
		}
	}
	if ch.Otp == "" {
		return loginResult{}, fmt.Errorf("server did not reveal the otp; run it with NODE_ENV=development")
	}

	var res loginResult
	if _, err := postJSON("/auth/verify-otp", "", map[string]string{"mobile": mobile, "otp": ch.Otp}, &res); err != nil {
		return loginResult{}, err
	}
	return res, nil
}

func createConversation(token, otherID string) (string, error) {
	var conv struct {
		ID string `json:"id"`
	}
	if _, err := postJSON("/conversations", token, map[string]string{"userId": otherID}, &conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

func spamChat(wg *sync.WaitGroup, me loginResult, convID, otherID string) {
	defer wg.Done()

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws/chat?token=" + me.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", me.User.ID, err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Event {
			case "newMessage":
				received.Add(1)
			case "messageTranslationUpdate":
				updates.Add(1)
			}
		}
	}()

	for i := 0; i < *msgCount; i++ {
		data, _ := json.Marshal(map[string]string{
			"conversationId": convID,
			"receiverId":     otherID,
			"originalText":   fmt.Sprintf("hello %d", i),
			"sourceLang":     "en",
		})
		if err := conn.WriteJSON(frame{Event: "sendMessage", Data: data}); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", me.User.ID, err)
			break
		}
		sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}

	// Give the refinement phase a moment before hanging up.
	time.Sleep(2 * time.Second)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func postJSON(endpoint, token string, body, out any) (int, error) {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, *baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
		return resp.StatusCode, fmt.Errorf("%s: status %d", endpoint, resp.StatusCode)
	}
	if resp.StatusCode < 400 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
