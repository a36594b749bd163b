package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"raito/internal/crawlmodel"
)

func TestBuildHTMLRecord_NoMetadata(t *testing.T) {
	body := []byte(`<html><head></head><body><p>hello</p></body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")

	if res.Record.Document != string(body) {
		t.Errorf("document mismatch")
	}
	if res.Record.JS != "{}" {
		t.Errorf("expected empty js object, got %q", res.Record.JS)
	}
	var og map[string]interface{}
	if err := json.Unmarshal([]byte(res.Record.OpenGraph), &og); err != nil {
		t.Fatalf("opengraph not valid json: %v", err)
	}
	if len(res.Record.Schema) != 0 {
		t.Errorf("expected empty schema, got %v", res.Record.Schema)
	}
}

func TestExtractJSONLD_GraphGroupsByType(t *testing.T) {
	body := []byte(`<html><head>
	<script type="application/ld+json">
	{"@graph": [
		{"@type": "Product", "name": "A"},
		{"@type": "Product", "name": "B"},
		{"@type": "Organization", "name": "C"}
	]}
	</script>
	</head><body></body></html>`)

	res := BuildHTMLRecord(body, "https://h/a")
	if len(res.Record.Schema) != 2 {
		t.Fatalf("expected 2 schema types, got %d: %v", len(res.Record.Schema), res.Record.Schema)
	}
	if !strings.Contains(res.Record.Schema["Product"], `"A"`) || !strings.Contains(res.Record.Schema["Product"], `"B"`) {
		t.Errorf("expected both Product entries present, got %q", res.Record.Schema["Product"])
	}
}

func TestExtractJSONLD_InvalidBlockSkipped(t *testing.T) {
	body := []byte(`<html><head>
	<script type="application/ld+json">not json at all {</script>
	</head><body></body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	if len(res.Record.Schema) != 0 {
		t.Errorf("expected invalid block to be skipped, got %v", res.Record.Schema)
	}
}

func TestExtractOpenGraph(t *testing.T) {
	body := []byte(`<html><head>
	<meta property="og:title" content="T&amp;1">
	<meta property="og:site_name" content="Site">
	<meta name="twitter:title" content="TwT">
	</head><body></body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	if !strings.Contains(res.Record.OpenGraph, `"title":"T&1"`) {
		t.Errorf("expected entity-decoded title, got %q", res.Record.OpenGraph)
	}
	if !strings.Contains(res.Record.OpenGraph, `"site_name":"Site"`) {
		t.Errorf("expected site_name surfaced, got %q", res.Record.OpenGraph)
	}
}

func TestExtractHydration_NextData(t *testing.T) {
	body := []byte(`<html><body>
	<script id="__NEXT_DATA__" type="application/json">{"props": {"a": 1}}</script>
	</body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	if !strings.Contains(res.Record.JS, "__NEXT_DATA__") {
		t.Errorf("expected __NEXT_DATA__ key present, got %q", res.Record.JS)
	}
}

func TestExtractHydration_WindowAssignment(t *testing.T) {
	body := []byte(`<html><body>
	<script>
	window.__INITIAL_STATE__ = {"user": {"id": 1}};
	</script>
	</body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	if !strings.Contains(res.Record.JS, "__INITIAL_STATE__") {
		t.Errorf("expected __INITIAL_STATE__ key present, got %q", res.Record.JS)
	}
}

func TestExtractJSVars(t *testing.T) {
	body := []byte(`<html><body>
	<script>
	// a leading comment
	var pageConfig = {"locale": "en"};
	const other = [1, 2, 3];
	</script>
	</body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	if !strings.Contains(res.Record.JS, "pageConfig") || !strings.Contains(res.Record.JS, "other") {
		t.Errorf("expected both vars captured, got %q", res.Record.JS)
	}
}

func TestExtractLinks_DedupeByFragment(t *testing.T) {
	body := []byte(`<html><body>
	<a href="/a#frag1">one</a>
	<a href="/a#frag2">two</a>
	<a href="javascript:void(0)">skip</a>
	<a href="mailto:x@y.com">skip</a>
	</body></html>`)
	res := BuildHTMLRecord(body, "https://h/base")
	if len(res.Links) != 1 {
		t.Fatalf("expected 1 deduped link, got %d: %+v", len(res.Links), res.Links)
	}
	if res.Links[0].URL != "https://h/a" {
		t.Errorf("expected resolved link https://h/a, got %q", res.Links[0].URL)
	}
}

func TestExtractLinks_NoFollow(t *testing.T) {
	body := []byte(`<html><body><a href="/x" rel="nofollow noopener">x</a></body></html>`)
	res := BuildHTMLRecord(body, "https://h/base")
	if len(res.Links) != 1 || !res.Links[0].NoFollow {
		t.Fatalf("expected nofollow link, got %+v", res.Links)
	}
}

func TestEvaluateSpecs_Empty(t *testing.T) {
	out, err := EvaluateSpecs(nil, Result{})
	if err != nil || out != "" {
		t.Errorf("expected empty output for no specs, got %q, %v", out, err)
	}
}

func TestEvaluateSpecs_OpenGraphPath(t *testing.T) {
	body := []byte(`<html><head><meta property="og:title" content="Hello"></head><body></body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	specs := []crawlmodel.ExtractSpec{{Alias: "headline", Source: "opengraph", Path: "title"}}
	out, err := EvaluateSpecs(specs, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"headline":"Hello"`) {
		t.Errorf("got %q", out)
	}
}

func TestEvaluateSpecs_CSSText(t *testing.T) {
	body := []byte(`<html><body><h1 class="title">Hello World</h1></body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	specs := []crawlmodel.ExtractSpec{{Alias: "headline", Source: "css", Path: "h1.title"}}
	out, err := EvaluateSpecs(specs, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"headline":"Hello World"`) {
		t.Errorf("got %q", out)
	}
}

func TestEvaluateSpecs_CSSAttr(t *testing.T) {
	body := []byte(`<html><body><a class="next" href="/page/2">Next</a></body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	specs := []crawlmodel.ExtractSpec{{Alias: "next_href", Source: "css", Path: "a.next->attr:href"}}
	out, err := EvaluateSpecs(specs, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"next_href":"/page/2"`) {
		t.Errorf("got %q", out)
	}
}

func TestEvaluateSpecs_CSSMultipleMatchesYieldArray(t *testing.T) {
	body := []byte(`<html><body><li class="tag">a</li><li class="tag">b</li></body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	specs := []crawlmodel.ExtractSpec{{Alias: "tags", Source: "css", Path: "li.tag"}}
	out, err := EvaluateSpecs(specs, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"tags":["a","b"]`) {
		t.Errorf("got %q", out)
	}
}

func TestEvaluateSpecs_CSSNoMatchOmitsAlias(t *testing.T) {
	body := []byte(`<html><body><p>no match here</p></body></html>`)
	res := BuildHTMLRecord(body, "https://h/a")
	specs := []crawlmodel.ExtractSpec{{Alias: "missing", Source: "css", Path: ".does-not-exist"}}
	out, err := EvaluateSpecs(specs, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "{}" {
		t.Errorf("expected empty object when selector matches nothing, got %q", out)
	}
}
