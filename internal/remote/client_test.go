package remote_test

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/mdlm/internal/apperr"
	"github.com/starford/mdlm/internal/models"
	"github.com/starford/mdlm/internal/remote"
	"github.com/starford/mdlm/internal/testutil"
)

func testClient(t *testing.T, token string) (*remote.Client, *testutil.FakeRemote) {
	t.Helper()
	fake := testutil.NewFakeRemote(token)
	srv := fake.Start(t)
	return remote.NewClient(srv.URL, token), fake
}

func TestCRUDRoundtrip(t *testing.T) {
	ctx := context.Background()
	client, fake := testClient(t, "mdlm_secret")

	created, err := client.Create(ctx, "layering.md", "# Layers", "architecture")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.Version != 1 {
		t.Fatalf("created = %+v, want id and version 1", created)
	}

	got, err := client.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "# Layers" || got.Category != "architecture" {
		t.Errorf("got = %+v", got)
	}

	updated, err := client.Update(ctx, created.ID, "layering.md", "# Layers v2", "architecture", "tighten wording")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	docs, err := client.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "# Layers v2" {
		t.Errorf("docs = %+v", docs)
	}

	if err := client.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if fake.Doc(created.ID) != nil {
		t.Error("doc still present after delete")
	}
}

func TestListFiltersByCategory(t *testing.T) {
	ctx := context.Background()
	client, fake := testClient(t, "")
	fake.Seed(models.Document{ID: "a1", Version: 1, Title: "a.md", Category: "security"})
	fake.Seed(models.Document{ID: "b1", Version: 1, Title: "b.md", Category: "testing"})

	docs, err := client.List(ctx, "security")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "a1" {
		t.Errorf("docs = %+v, want only a1", docs)
	}
}

func TestUnauthorized(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote("mdlm_right")
	srv := fake.Start(t)
	client := remote.NewClient(srv.URL, "mdlm_wrong")

	_, err := client.List(ctx, "")
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	client, _ := testClient(t, "")

	_, err := client.Get(ctx, "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	var apiErr *remote.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != 404 || apiErr.Message != "doc not found" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	client, fake := testClient(t, "")

	res, err := client.Query(ctx, "how are layers structured?", "architecture")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Answer == "" {
		t.Error("empty answer")
	}
	if fake.CallCount("query") != 1 {
		t.Errorf("query calls = %d, want 1", fake.CallCount("query"))
	}
}
