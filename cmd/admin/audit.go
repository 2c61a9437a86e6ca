package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adamscao/certguard/internal/config"
	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/models"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read and maintain the audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE:  listAudit,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count audit entries per action",
	Args:  cobra.NoArgs,
	RunE:  auditStats,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries older than a retention period",
	Args:  cobra.NoArgs,
	RunE:  pruneAudit,
}

var (
	auditCertID string
	auditAction string
	auditLimit  int
	auditSince  string
	auditOlder  string
)

var auditActions = []string{
	models.ActionCertIssue,
	models.ActionCertAnchorFailed,
	models.ActionCertVerify,
	models.ActionCertApprove,
	models.ActionCertReject,
	models.ActionAuthFailed,
}

func init() {
	auditListCmd.Flags().StringVar(&auditCertID, "cert", "", "Filter by certificate id")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of entries")

	auditStatsCmd.Flags().StringVar(&auditSince, "since", "7d", "Count entries newer than this (e.g. 24h, 30d)")

	auditPruneCmd.Flags().StringVar(&auditOlder, "older-than", "365d", "Delete entries older than this (e.g. 90d)")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditStatsCmd)
	auditCmd.AddCommand(auditPruneCmd)
}

func listAudit(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	logs, err := repository.NewAuditRepository(database.DB).List(cmd.Context(), auditCertID, auditAction, auditLimit)
	if err != nil {
		return err
	}

	if len(logs) == 0 {
		fmt.Println("No audit entries found")
		return nil
	}

	fmt.Printf("%-20s %-20s %-36s %-16s %-7s %s\n", "Time", "Action", "Cert ID", "Client", "Result", "Error")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")

	for _, entry := range logs {
		result := color.GreenString("%-7s", "ok")
		if !entry.Success {
			result = color.RedString("%-7s", "failed")
		}
		fmt.Printf("%-20s %-20s %-36s %-16s %s %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Action,
			entry.CertID,
			entry.ClientIP,
			result,
			entry.ErrorMsg,
		)
	}

	return nil
}

func auditStats(cmd *cobra.Command, args []string) error {
	window, err := config.ParseDuration(auditSince)
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	repo := repository.NewAuditRepository(database.DB)
	since := time.Now().Add(-window)

	fmt.Printf("Audit entries since %s\n\n", since.UTC().Format(time.RFC3339))
	for _, action := range auditActions {
		count, err := repo.CountByAction(cmd.Context(), action, since)
		if err != nil {
			return err
		}
		fmt.Printf("  %-20s %d\n", action, count)
	}

	return nil
}

func pruneAudit(cmd *cobra.Command, args []string) error {
	retention, err := config.ParseDuration(auditOlder)
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}
	if retention <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	deleted, err := repository.NewAuditRepository(database.DB).DeleteOld(cmd.Context(), time.Now().Add(-retention))
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d audit entries\n", deleted)
	return nil
}
