package batcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func fixedRender(size int) PayloadFunc {
	return func(key string) ([]byte, error) {
		return []byte(strings.Repeat("x", size)), nil
	}
}

func TestPartition(t *testing.T) {
	t.Run("splits on item count", func(t *testing.T) {
		batches, failures := Partition(
			[]string{"a", "b", "c", "d", "e"},
			Limits{MaxItems: 2, MaxBytes: 1 << 20},
			fixedRender(10),
		)
		if len(failures) != 0 {
			t.Fatalf("failures = %v", failures)
		}
		if len(batches) != 3 {
			t.Fatalf("got %d batches, want 3", len(batches))
		}
		want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
		for i, batch := range batches {
			if !reflect.DeepEqual(batch.Keys, want[i]) {
				t.Errorf("batch %d keys = %v, want %v", i, batch.Keys, want[i])
			}
		}
	})

	t.Run("splits on byte size", func(t *testing.T) {
		// Lines of 10 bytes plus newline; three fit in 35, the fourth not.
		batches, failures := Partition(
			[]string{"a", "b", "c", "d"},
			Limits{MaxItems: 100, MaxBytes: 35},
			fixedRender(10),
		)
		if len(failures) != 0 {
			t.Fatalf("failures = %v", failures)
		}
		if len(batches) != 2 {
			t.Fatalf("got %d batches, want 2", len(batches))
		}
		if len(batches[0].Keys) != 3 || len(batches[1].Keys) != 1 {
			t.Errorf("split = %d/%d, want 3/1", len(batches[0].Keys), len(batches[1].Keys))
		}
		if batches[0].SizeBytes != 33 {
			t.Errorf("SizeBytes = %d, want 33", batches[0].SizeBytes)
		}
	})

	t.Run("oversized item becomes failure, not batch", func(t *testing.T) {
		render := func(key string) ([]byte, error) {
			if key == "big" {
				return []byte(strings.Repeat("x", 100)), nil
			}
			return []byte("small"), nil
		}
		batches, failures := Partition(
			[]string{"a", "big", "b"},
			Limits{MaxItems: 10, MaxBytes: 50},
			render,
		)
		if len(batches) != 1 {
			t.Fatalf("got %d batches, want 1", len(batches))
		}
		if !reflect.DeepEqual(batches[0].Keys, []string{"a", "b"}) {
			t.Errorf("keys = %v, want [a b]", batches[0].Keys)
		}
		if len(failures) != 1 || failures[0].Key != "big" {
			t.Fatalf("failures = %v, want one for big", failures)
		}
		if !errors.Is(failures[0].Err, ErrOversized) {
			t.Errorf("failure error = %v, want ErrOversized", failures[0].Err)
		}
	})

	t.Run("render errors are per-item failures", func(t *testing.T) {
		renderErr := errors.New("blob missing")
		render := func(key string) ([]byte, error) {
			if key == "broken" {
				return nil, renderErr
			}
			return []byte("line"), nil
		}
		batches, failures := Partition(
			[]string{"a", "broken", "b"},
			Limits{MaxItems: 10, MaxBytes: 1 << 20},
			render,
		)
		if len(batches) != 1 || len(batches[0].Keys) != 2 {
			t.Fatalf("batches = %+v", batches)
		}
		if len(failures) != 1 || !errors.Is(failures[0].Err, renderErr) {
			t.Fatalf("failures = %v", failures)
		}
	})

	t.Run("empty input yields nothing", func(t *testing.T) {
		batches, failures := Partition(nil, Limits{MaxItems: 10, MaxBytes: 100}, fixedRender(1))
		if batches != nil || failures != nil {
			t.Errorf("got %v, %v, want nil, nil", batches, failures)
		}
	})
}

func TestBatchPayload(t *testing.T) {
	batch := Batch{
		Lines:     [][]byte{[]byte(`{"custom_id":"a"}`), []byte(`{"custom_id":"b"}`)},
		SizeBytes: 36,
	}
	payload := string(batch.Payload())
	if payload != "{\"custom_id\":\"a\"}\n{\"custom_id\":\"b\"}\n" {
		t.Errorf("payload = %q", payload)
	}
	if int64(len(payload)) != batch.SizeBytes {
		t.Errorf("len(payload) = %d, SizeBytes = %d", len(payload), batch.SizeBytes)
	}
}

func TestRequestLine(t *testing.T) {
	line, err := RequestLine("deal_42__acme.com__20240101", "gpt-4o-mini", "system text", "page text", 2000)
	if err != nil {
		t.Fatalf("RequestLine() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("line is not valid json: %v", err)
	}
	if decoded["custom_id"] != "deal_42__acme.com__20240101" {
		t.Errorf("custom_id = %v", decoded["custom_id"])
	}
	if decoded["method"] != "POST" || decoded["url"] != "/v1/chat/completions" {
		t.Errorf("method/url = %v/%v", decoded["method"], decoded["url"])
	}
	body, ok := decoded["body"].(map[string]any)
	if !ok {
		t.Fatal("body missing")
	}
	if body["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", body["model"])
	}
	messages, ok := body["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if fmt.Sprint(body["max_tokens"]) != "2000" {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
}
