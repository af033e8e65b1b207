/*
Copyright 2024 Flowlane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flowlane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/flowlane/model"
)

func TestHTTPSourceAdapterPoll(t *testing.T) {
	var gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"events": [
				{"id": "msg-1", "payload": {"subject": "hello"}},
				{"id": "msg-2", "payload": {"subject": "world"}, "meta_data": {"folder": "inbox"}}
			],
			"cursor": {"since": "2024-05-02T00:00:00Z"}
		}`))
	}))
	defer server.Close()

	source := &model.TaskSource{
		TaskSourceID:   "tsc_1",
		TriggerKey:     HTTPTriggerKey,
		ResourceConfig: map[string]interface{}{"url": server.URL},
		Cursor:         map[string]interface{}{"since": "2024-05-01T00:00:00Z"},
	}

	result, err := NewHTTPSourceAdapter().Poll(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01T00:00:00Z", gotSince)
	require.Len(t, result.Events, 2)
	assert.Equal(t, "msg-1", result.Events[0].ExternalEventID)
	assert.Equal(t, "hello", result.Events[0].Payload["subject"])
	assert.Equal(t, "inbox", result.Events[1].MetaData["folder"])
	assert.Equal(t, "2024-05-02T00:00:00Z", result.Cursor["since"])
}

func TestHTTPSourceAdapterPollKeepsCursorWhenOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events": []}`))
	}))
	defer server.Close()

	source := &model.TaskSource{
		TaskSourceID:   "tsc_1",
		ResourceConfig: map[string]interface{}{"url": server.URL},
		Cursor:         map[string]interface{}{"since": "2024-05-01T00:00:00Z"},
	}

	result, err := NewHTTPSourceAdapter().Poll(context.Background(), source)
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, source.Cursor, result.Cursor)
}

func TestHTTPSourceAdapterPollMissingURL(t *testing.T) {
	source := &model.TaskSource{
		TaskSourceID:   "tsc_1",
		ResourceConfig: map[string]interface{}{},
	}

	_, err := NewHTTPSourceAdapter().Poll(context.Background(), source)
	assert.Error(t, err)
}

func TestHTTPSourceAdapterPollRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	source := &model.TaskSource{
		TaskSourceID:   "tsc_1",
		ResourceConfig: map[string]interface{}{"url": server.URL},
	}

	_, err := NewHTTPSourceAdapter().Poll(context.Background(), source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
