// Gatewayサービスのエントリポイント。
// 呼び出し元を認証し、出品支援の各バックエンドにリクエストを転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
//
// 使い方:
//
//	# サーバーを起動する
//	gateway serve
//
//	# 運用向けにBearerトークンを発行する
//	gateway token admin
package main

func main() {
	Execute()
}
