package fmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testBase = "/fmi/data/v1/databases/Contacts"

type fakeDataAPI struct {
	t        *testing.T
	sessions atomic.Int32
	tokens   []string
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeDataAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && r.URL.Path == testBase+"/sessions" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			writeFM(w, http.StatusUnauthorized, nil, Message{Code: "212", Message: "Invalid user account and/or password"})
			return
		}
		n := int(f.sessions.Add(1))
		token := "token-1"
		if n <= len(f.tokens) {
			token = f.tokens[n-1]
		}
		writeFM(w, http.StatusOK, map[string]any{"token": token})
		return
	}
	f.handler(w, r)
}

func writeFM(w http.ResponseWriter, status int, response any, messages ...Message) {
	if len(messages) == 0 {
		messages = []Message{{Code: "0", Message: "OK"}}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"response": response,
		"messages": messages,
	})
}

func newTestClient(t *testing.T, api *fakeDataAPI) *Client {
	t.Helper()
	api.t = t
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		Host:          srv.URL,
		Database:      "Contacts",
		Username:      "admin",
		Password:      "secret",
		RetryInterval: time.Millisecond,
		RateLimit:     1000,
		RateBurst:     100,
	}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestNew_RequiresHostAndDatabase(t *testing.T) {
	_, err := New(Config{Database: "db"}, zerolog.Nop())
	require.ErrorContains(t, err, "Host is required")

	_, err = New(Config{Host: "http://fm"}, zerolog.Nop())
	require.ErrorContains(t, err, "Database is required")
}

func TestCreate_AuthenticatesAndReturnsRecordID(t *testing.T) {
	api := &fakeDataAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(api.t, http.MethodPost, r.Method)
		require.Equal(api.t, testBase+"/layouts/People/records", r.URL.Path)
		require.Equal(api.t, "Bearer token-1", r.Header.Get("Authorization"))

		var body struct {
			FieldData map[string]any `json:"fieldData"`
		}
		require.NoError(api.t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(api.t, "Ada", body.FieldData["Name"])
		writeFM(w, http.StatusOK, map[string]any{"recordId": "42", "modId": "0"})
	}
	client := newTestClient(t, api)

	id, err := client.Create(context.Background(), "People", map[string]any{"Name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, "42", id)
	require.EqualValues(t, 1, api.sessions.Load())
}

func TestDo_RenewsRejectedSessionOnce(t *testing.T) {
	api := &fakeDataAPI{tokens: []string{"stale", "fresh"}}
	var calls atomic.Int32
	api.handler = func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer stale" {
			writeFM(w, http.StatusUnauthorized, nil, Message{Code: "952", Message: "Invalid FileMaker Data API token"})
			return
		}
		writeFM(w, http.StatusOK, map[string]any{"modId": "2"})
	}
	client := newTestClient(t, api)

	require.NoError(t, client.Update(context.Background(), "People", "7", map[string]any{"Name": "Grace"}))
	require.EqualValues(t, 2, api.sessions.Load())
	require.EqualValues(t, 2, calls.Load())
}

func TestDo_PersistentAuthFailureSurfacesAuthError(t *testing.T) {
	api := &fakeDataAPI{}
	api.handler = func(w http.ResponseWriter, _ *http.Request) {
		writeFM(w, http.StatusUnauthorized, nil, Message{Code: "952", Message: "Invalid FileMaker Data API token"})
	}
	client := newTestClient(t, api)

	err := client.Delete(context.Background(), "People", "7")
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode())
	require.EqualValues(t, 2, api.sessions.Load())
}

func TestFind_ListsRecordsWithoutCriteria(t *testing.T) {
	api := &fakeDataAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(api.t, http.MethodGet, r.Method)
		require.Equal(api.t, testBase+"/layouts/People/records", r.URL.Path)
		require.Equal(api.t, "11", r.URL.Query().Get("_offset"))
		require.Equal(api.t, "10", r.URL.Query().Get("_limit"))
		require.JSONEq(api.t, `[{"fieldName":"Name","sortOrder":"ascend"}]`, r.URL.Query().Get("_sort"))
		writeFM(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"recordId": "11", "modId": "0", "fieldData": map[string]any{"Name": "Ada"}},
			},
			"dataInfo": map[string]any{"foundCount": 25, "returnedCount": 1, "totalRecordCount": 25},
		})
	}
	client := newTestClient(t, api)

	result, err := client.Find(context.Background(), "People", FindRequest{
		Limit:  10,
		Offset: 10,
		Sort:   []SortField{{Field: "Name", Order: SortAscend}},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Equal(t, "11", result.Records[0].ID)
	require.Equal(t, "Ada", result.Records[0].Fields["Name"])
	require.Equal(t, 25, result.FoundCount)
}

func TestFind_UsesFindEndpointWithCriteria(t *testing.T) {
	api := &fakeDataAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request) {
		require.Equal(api.t, http.MethodPost, r.Method)
		require.Equal(api.t, testBase+"/layouts/People/_find", r.URL.Path)
		var body map[string]any
		require.NoError(api.t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(api.t, "1", body["offset"])
		require.Equal(api.t, "5", body["limit"])
		require.Equal(api.t, []any{map[string]any{"City": "==Zurich"}}, body["query"])
		writeFM(w, http.StatusOK, map[string]any{"data": []any{}, "dataInfo": map[string]any{}})
	}
	client := newTestClient(t, api)

	result, err := client.Find(context.Background(), "People", FindRequest{
		Query: []map[string]any{{"City": "==Zurich"}},
		Limit: 5,
	})
	require.NoError(t, err)
	require.Empty(t, result.Records)
}

func TestFind_NoRecordsMatchIsEmptyResult(t *testing.T) {
	api := &fakeDataAPI{}
	api.handler = func(w http.ResponseWriter, _ *http.Request) {
		writeFM(w, http.StatusInternalServerError, nil, Message{Code: "401", Message: "No records match the request"})
	}
	client := newTestClient(t, api)

	result, err := client.Find(context.Background(), "People", FindRequest{
		Query: []map[string]any{{"Name": "nobody"}},
		Limit: 5,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Empty(t, result.Records)
	require.EqualValues(t, 1, api.sessions.Load())
}

func TestDo_RemoteErrorCarriesProviderCodes(t *testing.T) {
	api := &fakeDataAPI{}
	api.handler = func(w http.ResponseWriter, _ *http.Request) {
		writeFM(w, http.StatusInternalServerError, nil, Message{Code: "102", Message: "Field is missing"})
	}
	client := newTestClient(t, api)

	_, err := client.Create(context.Background(), "People", map[string]any{"Bogus": 1})
	require.Error(t, err)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, http.StatusInternalServerError, remote.StatusCode())
	require.Equal(t, []string{"102"}, remote.Codes())
	require.Contains(t, err.Error(), "Error 102: Field is missing")
}

func TestDo_MissingRecordIsNotFound(t *testing.T) {
	api := &fakeDataAPI{}
	api.handler = func(w http.ResponseWriter, _ *http.Request) {
		writeFM(w, http.StatusInternalServerError, nil, Message{Code: "101", Message: "Record is missing"})
	}
	client := newTestClient(t, api)

	err := client.Delete(context.Background(), "People", "99")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	api := &fakeDataAPI{}
	var calls atomic.Int32
	api.handler = func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeFM(w, http.StatusOK, map[string]any{"recordId": "5"})
	}
	client := newTestClient(t, api)

	id, err := client.Create(context.Background(), "People", map[string]any{"Name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, "5", id)
	require.EqualValues(t, 3, calls.Load())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	api := &fakeDataAPI{}
	api.handler = func(http.ResponseWriter, *http.Request) {}
	client := newTestClient(t, api)
	client.cfg.Password = "wrong"

	err := client.Login(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "invalid username or password"), err.Error())
}

func TestLogout_ClosesSession(t *testing.T) {
	api := &fakeDataAPI{}
	var deleted atomic.Bool
	api.handler = func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == testBase+"/sessions/token-1" {
			deleted.Store(true)
		}
		writeFM(w, http.StatusOK, map[string]any{})
	}
	client := newTestClient(t, api)

	require.NoError(t, client.Login(context.Background()))
	require.NoError(t, client.Logout(context.Background()))
	require.True(t, deleted.Load())
	require.NoError(t, client.Logout(context.Background()))
}
