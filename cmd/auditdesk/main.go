// Package main implements the auditdesk CLI.
package main

func main() {
	Execute()
}
