package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/models"
	"github.com/adamscao/certguard/internal/verify"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage certificates",
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificates",
	Args:  cobra.NoArgs,
	RunE:  listCerts,
}

var certIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a certificate from a rendered artifact",
	Args:  cobra.NoArgs,
	RunE:  issueCert,
}

var certApproveCmd = &cobra.Command{
	Use:   "approve <cert-id>",
	Short: "Approve a pending certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideCert(cmd, args[0], true)
	},
}

var certRejectCmd = &cobra.Command{
	Use:   "reject <cert-id>",
	Short: "Reject a pending certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideCert(cmd, args[0], false)
	},
}

var certVerifyCmd = &cobra.Command{
	Use:   "verify <cert-id>",
	Short: "Verify a certificate against its recorded hash and the ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  verifyCert,
}

var (
	listStatus string
	listLimit  int

	artifactPath string
	issueReq     models.IssueRequest
	issuedDate   string
)

func init() {
	certListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, approved, rejected)")
	certListCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of certificates")

	certIssueCmd.Flags().StringVarP(&artifactPath, "file", "f", "", "Rendered certificate file (required)")
	certIssueCmd.Flags().StringVar(&issueReq.RecipientName, "name", "", "Recipient name (required)")
	certIssueCmd.Flags().StringVar(&issueReq.RecipientEmail, "email", "", "Recipient email (required)")
	certIssueCmd.Flags().StringVar(&issueReq.CourseName, "course", "", "Course name (required)")
	certIssueCmd.Flags().StringVar(&issueReq.CompanyName, "company", "", "Issuing company")
	certIssueCmd.Flags().StringVar(&issueReq.CourseDuration, "duration", "", "Course duration")
	certIssueCmd.Flags().StringVar(&issueReq.Remarks, "remarks", "", "Remarks")
	certIssueCmd.Flags().StringVar(&issuedDate, "date", "", "Issue date (YYYY-MM-DD, default today)")

	certIssueCmd.MarkFlagRequired("file")
	certIssueCmd.MarkFlagRequired("name")
	certIssueCmd.MarkFlagRequired("email")
	certIssueCmd.MarkFlagRequired("course")

	certCmd.AddCommand(certListCmd)
	certCmd.AddCommand(certIssueCmd)
	certCmd.AddCommand(certApproveCmd)
	certCmd.AddCommand(certRejectCmd)
	certCmd.AddCommand(certVerifyCmd)
}

func listCerts(cmd *cobra.Command, args []string) error {
	status := models.CertStatus(listStatus)
	if status != "" && !status.Valid() {
		return fmt.Errorf("invalid status: %s", listStatus)
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	certs, err := repository.NewCertRepository(database.DB).List(cmd.Context(), status, listLimit)
	if err != nil {
		return err
	}

	if len(certs) == 0 {
		fmt.Println("No certificates found")
		return nil
	}

	fmt.Printf("\nTotal certificates: %d\n\n", len(certs))
	fmt.Printf("%-36s %-24s %-24s %-9s %-8s %s\n", "Cert ID", "Recipient", "Course", "Status", "Anchored", "Issued")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")

	for _, cert := range certs {
		anchored := "No"
		if cert.Anchored() {
			anchored = "Yes"
		}
		fmt.Printf("%-36s %-24s %-24s %-9s %-8s %s\n",
			cert.CertID,
			truncate(cert.RecipientName, 24),
			truncate(cert.CourseName, 24),
			cert.Status,
			anchored,
			cert.IssuedDate.Format("2006-01-02"),
		)
	}

	return nil
}

func issueCert(cmd *cobra.Command, args []string) error {
	artifact, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	if issuedDate != "" {
		issueReq.IssuedDate, err = time.Parse("2006-01-02", issuedDate)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	svc, err := initServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.issuance.Issue(cmd.Context(), &issueReq, artifact, cliActor())
	if err != nil {
		return fmt.Errorf("failed to issue certificate: %w", err)
	}

	color.Green("\nCertificate issued successfully!\n")
	fmt.Printf("Cert ID:      %s\n", res.Cert.CertID)
	fmt.Printf("Recipient:    %s <%s>\n", res.Cert.RecipientName, res.Cert.RecipientEmail)
	fmt.Printf("Course:       %s\n", res.Cert.CourseName)
	fmt.Printf("Status:       %s\n", statusString(res.Cert.Status))
	fmt.Printf("Content hash: %s\n", res.Cert.ContentHash)
	if res.Anchored {
		fmt.Printf("Ledger tx:    %s\n", res.Cert.LedgerTxRef)
	} else {
		color.Yellow("Ledger:       not anchored")
	}
	fmt.Printf("Verify URL:   %s\n", res.QRPayload)

	return nil
}

func decideCert(cmd *cobra.Command, certID string, approve bool) error {
	svc, err := initServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	cert, err := svc.issuance.Decide(cmd.Context(), certID, approve, cliActor())
	if err != nil {
		return err
	}

	fmt.Printf("Certificate %s is now %s\n", cert.CertID, statusString(cert.Status))
	return nil
}

func verifyCert(cmd *cobra.Command, args []string) error {
	svc, err := initServices(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.engine.Verify(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	printVerdict(res)
	if !res.OverallValid {
		cmd.SilenceUsage = true
		return fmt.Errorf("certificate %s failed verification", args[0])
	}
	return nil
}

func printVerdict(res *verify.Result) {
	fmt.Println()
	if res.OverallValid {
		color.Green("✓ %s", res.Verdict)
	} else {
		color.Red("✗ %s", res.Verdict)
	}
	fmt.Printf("  %s\n\n", res.Message)

	if res.Cert != nil {
		fmt.Printf("  Cert ID:   %s\n", res.Cert.CertID)
		fmt.Printf("  Recipient: %s\n", res.Cert.RecipientName)
		fmt.Printf("  Course:    %s\n", res.Cert.CourseName)
		fmt.Printf("  Issued:    %s\n", res.Cert.IssuedDate.Format("2006-01-02"))
		fmt.Printf("  Status:    %s\n", statusString(res.Cert.Status))
	}
	if res.Verdict == verify.VerdictNotFound || res.Verdict == verify.VerdictArtifactMissing {
		return
	}

	fmt.Printf("  DB check:     %s\n", checkString(&res.DBValid))
	fmt.Printf("  Ledger check: %s (%s)\n", checkString(res.LedgerValid), res.LedgerStatus)
	if res.LedgerTxRef != "" {
		fmt.Printf("  Ledger tx:    %s\n", res.LedgerTxRef)
	}
}

func checkString(v *bool) string {
	switch {
	case v == nil:
		return color.YellowString("n/a")
	case *v:
		return color.GreenString("pass")
	default:
		return color.RedString("fail")
	}
}

func statusString(s models.CertStatus) string {
	switch s {
	case models.StatusApproved:
		return color.GreenString(string(s))
	case models.StatusRejected:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
