// Package gateway はGatewayサービスの内部実装を提供する。
//
// 呼び出し元をBearerトークンまたは事前共有APIキーで認証し、
// 画像解析・出品文生成・一括出品・市場調査の各バックエンドにリクエストを転送する。
// 外部からアクセス可能な唯一の入口であり、バックエンドの失敗はすべて502に統一する。
package gateway
