package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestSendBlockingRequestShape(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"answer":          "Per Article 12 the licensee must report.",
			"conversation_id": "conv-9",
			"message_id":      "msg-1",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "key-123")
	reply, err := client.Send(context.Background(), SendInput{Query: "reporting duties?", User: "usr_1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/v1/chat-messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer key-123" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody["response_mode"] != "blocking" || gotBody["query"] != "reporting duties?" || gotBody["user"] != "usr_1" {
		t.Fatalf("body = %v", gotBody)
	}
	if _, ok := gotBody["conversation_id"]; ok {
		t.Fatal("conversation_id should be omitted for a fresh conversation")
	}
	if reply.Answer == "" || reply.ConversationID != "conv-9" || reply.MessageID != "msg-1" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestSendContinuesConversation(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"answer": "ok", "conversation_id": "conv-9"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k")
	if _, err := client.Send(context.Background(), SendInput{Query: "q", ConversationID: "conv-9", User: "u"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotBody["conversation_id"] != "conv-9" {
		t.Fatalf("conversation_id = %v", gotBody["conversation_id"])
	}
}

func TestSendExtractsSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"answer": "see sources",
			"metadata": map[string]any{
				"retriever_resources": []map[string]any{
					{"document_name": "Reg A"},
					{"document_name": "", "dataset_name": "Corpus B"},
					{"document_name": "Reg A"},
					{"segment_id": "seg-7"},
					{"document_name": "", "dataset_name": "", "segment_id": ""},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k")
	reply, err := client.Send(context.Background(), SendInput{Query: "q", User: "u"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []string{"Reg A", "Corpus B", "seg-7"}
	if !reflect.DeepEqual(reply.Sources, want) {
		t.Fatalf("sources = %v, want %v", reply.Sources, want)
	}
}

func TestSendUpstreamErrorJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "model overloaded"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k")
	_, err := client.Send(context.Background(), SendInput{Query: "q", User: "u"})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("want *UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusBadGateway {
		t.Fatalf("status = %d", ue.Status)
	}
	body, ok := ue.Body.(map[string]any)
	if !ok || body["message"] != "model overloaded" {
		t.Fatalf("body = %v", ue.Body)
	}
}

func TestSendUpstreamErrorNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<html>gateway fell over</html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k")
	_, err := client.Send(context.Background(), SendInput{Query: "q", User: "u"})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("want *UpstreamError, got %v", err)
	}
	body, ok := ue.Body.(map[string]any)
	if !ok || body["raw"] != "<html>gateway fell over</html>" {
		t.Fatalf("body = %v", ue.Body)
	}
}

func TestSendDeadlineExceeded(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClient(srv.URL, "k")
	_, err := client.Send(ctx, SendInput{Query: "q", User: "u"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}
