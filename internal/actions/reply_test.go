package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/convoflowhq/convoflow/internal/model"
)

func TestSendRequiresMatchingCredential(t *testing.T) {
	r := NewReplier(testLogger())
	err := r.Send(context.Background(), ReplyDelivery{
		Platform:   model.PlatformInstagram,
		Channel:    model.ChannelDirectMessage,
		Credential: &model.Credential{Type: model.CredentialBotToken, Value: "x"},
		TargetID:   "user-1",
		Text:       "hi",
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	if err := r.Send(context.Background(), ReplyDelivery{
		Platform: model.PlatformInstagram,
		Channel:  model.ChannelDirectMessage,
		TargetID: "user-1",
	}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("nil credential err = %v, want ErrConflict", err)
	}
}

func TestSendMetaDM(t *testing.T) {
	var gotPath, gotAuth string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotAuth = req.Header.Get("Authorization")
		req.ParseForm()
		gotForm = map[string]string{
			"recipient": req.PostForm.Get("recipient"),
			"message":   req.PostForm.Get("message"),
		}
		io.WriteString(w, `{"message_id":"m1"}`)
	}))
	defer srv.Close()

	r := NewReplier(testLogger())
	r.graphBase = srv.URL

	err := r.Send(context.Background(), ReplyDelivery{
		Platform:   model.PlatformInstagram,
		Channel:    model.ChannelDirectMessage,
		Credential: &model.Credential{Type: model.CredentialAppAccessToken, Value: "tok"},
		TargetID:   "user-1",
		Text:       "see you at 8",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(gotPath, "/user-1/messages") {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	var msg map[string]string
	json.Unmarshal([]byte(gotForm["message"]), &msg)
	if msg["text"] != "see you at 8" {
		t.Errorf("message form field = %q", gotForm["message"])
	}
}

func TestSendMetaCommentReply(t *testing.T) {
	var gotPath string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		req.ParseForm()
		gotForm = map[string]string{
			"message":      req.PostForm.Get("message"),
			"access_token": req.PostForm.Get("access_token"),
		}
		io.WriteString(w, `{"id":"c2"}`)
	}))
	defer srv.Close()

	r := NewReplier(testLogger())
	r.graphBase = srv.URL

	err := r.Send(context.Background(), ReplyDelivery{
		Platform:   model.PlatformInstagram,
		Channel:    model.ChannelComment,
		Credential: &model.Credential{Type: model.CredentialPageAccessToken, Value: "page-tok"},
		TargetID:   "comment-9",
		Text:       "thanks!",
	})
	if err != nil {
		t.Fatal(err)
	}
	// Instagram comment replies go to the /replies edge.
	if !strings.HasSuffix(gotPath, "/comment-9/replies") {
		t.Errorf("path = %q", gotPath)
	}
	if gotForm["message"] != "thanks!" || gotForm["access_token"] != "page-tok" {
		t.Errorf("form = %v", gotForm)
	}
}

func TestSendWhatsapp(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		json.NewDecoder(req.Body).Decode(&gotBody)
		io.WriteString(w, `{"messages":[{"id":"w1"}]}`)
	}))
	defer srv.Close()

	r := NewReplier(testLogger())
	r.graphBase = srv.URL

	err := r.Send(context.Background(), ReplyDelivery{
		Platform:   model.PlatformWhatsapp,
		Channel:    model.ChannelDirectMessage,
		Credential: &model.Credential{Type: model.CredentialWabaToken, Value: "phone-1:waba-tok"},
		TargetID:   "15550001111",
		Text:       "your table is booked",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer waba-tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["to"] != "15550001111" || gotBody["messaging_product"] != "whatsapp" {
		t.Errorf("body = %v", gotBody)
	}

	// Malformed credential value is a conflict, not a transport error.
	err = r.Send(context.Background(), ReplyDelivery{
		Platform:   model.PlatformWhatsapp,
		Channel:    model.ChannelDirectMessage,
		Credential: &model.Credential{Type: model.CredentialWabaToken, Value: "no-separator"},
		TargetID:   "x",
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestSendSurfacesPlatformError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"message":"token expired"}}`)
	}))
	defer srv.Close()

	r := NewReplier(testLogger())
	r.graphBase = srv.URL

	err := r.Send(context.Background(), ReplyDelivery{
		Platform:   model.PlatformFacebook,
		Channel:    model.ChannelDirectMessage,
		Credential: &model.Credential{Type: model.CredentialPageAccessToken, Value: "tok"},
		TargetID:   "user-1",
		Text:       "hi",
	})
	var callErr *model.ExternalCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %v, want ExternalCallError", err)
	}
	if callErr.Status != http.StatusForbidden || !strings.Contains(callErr.Body, "token expired") {
		t.Errorf("call error = %+v", callErr)
	}
}
