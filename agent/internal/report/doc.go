// Package report reads ad performance reports into typed rows.
//
// Every analysis consumes []Row. Rows come from a Source (csv.go, http.go,
// postgres.go) fetched page by page through Paginate, the single pagination
// loop shared by all jobs. Header names are resolved by ColumnMap, which
// understands AWQL column names (CampaignName), snake_case export names
// (campaign_name) and the Japanese spreadsheet headers (キャンペーン名).
//
// Query renders the AWQL text sent to HTTP report endpoints; Filter is the
// one campaign/ad group filter, applied locally and, where AWQL can express
// it, pushed down into the query.
package report
