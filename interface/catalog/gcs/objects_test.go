package gcs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/satdatalab/satseries/common"
)

func TestListObjects(t *testing.T) {
	var prefix string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/b/gcp-public-data-goes-16/o") {
			http.NotFound(w, r)
			return
		}
		prefix = r.URL.Query().Get("prefix")
		resp := map[string]interface{}{
			"kind": "storage#objects",
			"items": []map[string]string{
				{"name": "ABI-L2-SSTF/2023/182/12/"},
				{"name": "ABI-L2-SSTF/2023/182/12/OR_ABI-L2-SSTF-M6_G16_s20231821200204_e20231821259511_c20231821305376.nc"},
				{"name": "ABI-L2-SSTF/2023/182/12/index.html"},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	defer ts.Close()

	product, err := common.GetProduct("goes16-l2-sst")
	if err != nil {
		t.Fatal(err)
	}
	lister := &Lister{Anonymous: true, Endpoint: ts.URL}
	day := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	refs, err := lister.List(context.Background(), product, day, "")
	if err != nil {
		t.Fatal(err)
	}

	if prefix != "ABI-L2-SSTF/2023/182/" {
		t.Errorf("expected prefix ABI-L2-SSTF/2023/182/, got %s", prefix)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 ref, got %d: %v", len(refs), refs)
	}
	want := "gs://gcp-public-data-goes-16/ABI-L2-SSTF/2023/182/12/OR_ABI-L2-SSTF-M6_G16_s20231821200204_e20231821259511_c20231821305376.nc"
	if refs[0].Address != want {
		t.Errorf("expected address %s, got %s", want, refs[0].Address)
	}
	if !refs[0].Time.Equal(time.Date(2023, 7, 1, 12, 0, 20, 0, time.UTC)) {
		t.Errorf("wrong time %v", refs[0].Time)
	}
}

func TestListNoBucket(t *testing.T) {
	product := &common.Product{Name: "unconfigured"}
	lister := &Lister{}
	if _, err := lister.List(context.Background(), product, time.Now().UTC(), ""); err == nil {
		t.Errorf("expected an error when the product has no GCS bucket")
	}
}
