// Command profilecrawler discovers company profiles for a list of keywords,
// writes them to a CSV file and a durable store, and re-runs on a schedule.
//
// Usage:
//
//	profilecrawler -config config.yaml [-refresh] [-debug]
//
// Every setting can also be supplied through CRAWLER_* environment variables,
// e.g. CRAWLER_DB_DSN or CRAWLER_SEARCH_RESULT_LIMIT.
package main
