package gateway

import (
	"time"

	"github.com/nao1215/listing-gateway/pkg/config"
)

// RouteName はGatewayの論理的な操作名。
type RouteName string

const (
	// RouteUpload は商品画像のアップロードと解析。
	RouteUpload RouteName = "upload"
	// RouteGenerateListing は出品文の生成。
	RouteGenerateListing RouteName = "generate_listing"
	// RouteSyndicate はマーケットプレイスへの一括出品。
	RouteSyndicate RouteName = "syndicate"
	// RouteResearch は市場調査と競合分析。
	RouteResearch RouteName = "research"
)

// BodyKind はプロキシ先に転送するボディの形式。
type BodyKind int

const (
	// BodyJSON は呼び出し元のJSONボディをそのまま転送する。
	BodyJSON BodyKind = iota
	// BodyMultipart はアップロードされたファイルをmultipartで転送する。
	BodyMultipart
)

// Route は1つの論理操作とプロキシ先の対応。起動時に確定し、以後変更しない。
type Route struct {
	// Name は論理操作名。
	Name RouteName
	// Label はエラーメッセージに使う表示名。
	Label string
	// URL はプロキシ先のURL。
	URL string
	// Timeout はプロキシ先呼び出しのタイムアウト。
	Timeout time.Duration
	// Body は転送するボディの形式。
	Body BodyKind
}

// RouteTable は論理操作名からRouteを引く表。
type RouteTable struct {
	routes map[RouteName]Route
	// order はNames()で返す順序。
	order []RouteName
}

// NewRouteTable は設定からルート表を生成する。
// 一括出品は処理が遅いため基本タイムアウトの2倍を使う。
func NewRouteTable(cfg *config.Config) *RouteTable {
	base := cfg.RequestTimeout()
	return newRouteTable([]Route{
		{Name: RouteUpload, Label: "Upload", URL: cfg.UploadServiceURL, Timeout: base, Body: BodyMultipart},
		{Name: RouteGenerateListing, Label: "Listing generation", URL: cfg.GenerateListingServiceURL, Timeout: base, Body: BodyJSON},
		{Name: RouteSyndicate, Label: "Syndication", URL: cfg.SyndicateServiceURL, Timeout: 2 * base, Body: BodyJSON},
		{Name: RouteResearch, Label: "Research", URL: cfg.ResearchServiceURL, Timeout: base, Body: BodyJSON},
	})
}

func newRouteTable(routes []Route) *RouteTable {
	t := &RouteTable{routes: make(map[RouteName]Route, len(routes))}
	for _, r := range routes {
		t.routes[r.Name] = r
		t.order = append(t.order, r.Name)
	}
	return t
}

// Lookup は論理操作名に対応するRouteを返す。
func (t *RouteTable) Lookup(name RouteName) (Route, bool) {
	r, ok := t.routes[name]
	return r, ok
}

// Names は登録されている論理操作名を定義順に返す。
func (t *RouteTable) Names() []RouteName {
	return append([]RouteName(nil), t.order...)
}
