package thredds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/satdatalab/satseries/common"
)

const catalogXML = `<?xml version="1.0" encoding="UTF-8"?>
<catalog xmlns="http://www.unidata.ucar.edu/namespaces/thredds/InvCatalog/v1.0" name="cdr/gridsat/2018">
  <service name="all" serviceType="Compound" base="">
    <service name="odap" serviceType="OPeNDAP" base="/thredds/dodsC/"/>
    <service name="http" serviceType="HTTPServer" base="/thredds/fileServer/"/>
  </service>
  <dataset name="cdr/gridsat/2018">
    <metadata inherited="true"><serviceName>all</serviceName></metadata>
    <dataset name="GRIDSAT-B1.2018.07.01.00.v02r01.nc" urlPath="cdr/gridsat/2018/GRIDSAT-B1.2018.07.01.00.v02r01.nc"/>
    <dataset name="GRIDSAT-B1.2018.07.01.21.v02r01.nc" urlPath="cdr/gridsat/2018/GRIDSAT-B1.2018.07.01.21.v02r01.nc"/>
    <dataset name="GRIDSAT-B1.2018.12.25.00.v02r01.nc" urlPath="cdr/gridsat/2018/GRIDSAT-B1.2018.12.25.00.v02r01.nc"/>
  </dataset>
</catalog>`

func TestListCatalog(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thredds/catalog/cdr/gridsat/2018/catalog.xml" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, catalogXML)
	}))
	defer ts.Close()

	product, err := common.GetProduct("gridsat-b1")
	if err != nil {
		t.Fatal(err)
	}
	lister := &Lister{Endpoint: ts.URL + "/thredds/catalog/cdr/gridsat/%Y/catalog.xml"}
	day := time.Date(2018, 7, 1, 0, 0, 0, 0, time.UTC)
	refs, err := lister.List(context.Background(), product, day, "")
	if err != nil {
		t.Fatal(err)
	}

	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d: %v", len(refs), refs)
	}
	want := ts.URL + "/thredds/fileServer/cdr/gridsat/2018/GRIDSAT-B1.2018.07.01.00.v02r01.nc"
	if refs[0].Address != want {
		t.Errorf("expected address %s, got %s", want, refs[0].Address)
	}
	if !refs[1].Time.Equal(time.Date(2018, 7, 1, 21, 0, 0, 0, time.UTC)) {
		t.Errorf("wrong time %v", refs[1].Time)
	}
}

func TestListCatalogNoHTTPServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><catalog name="x"><service name="odap" serviceType="OPeNDAP" base="/dodsC/"/><dataset name="x"/></catalog>`)
	}))
	defer ts.Close()

	product, err := common.GetProduct("gridsat-b1")
	if err != nil {
		t.Fatal(err)
	}
	lister := &Lister{Endpoint: ts.URL + "/catalog.xml"}
	if _, err := lister.List(context.Background(), product, time.Now().UTC(), ""); err == nil {
		t.Errorf("expected an error when the catalog has no HTTPServer service")
	}
}
