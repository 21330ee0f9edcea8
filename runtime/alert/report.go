package alert

import (
	"fmt"
	"strings"
	"time"
)

// pathSanitizer makes service identifiers safe for use as blob key segments.
var pathSanitizer = strings.NewReplacer("/", "-", ":", "-", " ", "-")

// AnalysisKey builds the blob key for a full analysis report:
// alerts/{date}/{service_type}/{service_name}/{time}-{alert_id}.md.
func AnalysisKey(serviceType, serviceName, alertID string, at time.Time) string {
	return fmt.Sprintf("alerts/%s/%s/%s/%s-%s.md",
		at.Format("2006-01-02"),
		pathSanitizer.Replace(serviceType),
		pathSanitizer.Replace(serviceName),
		at.Format("15-04-05"),
		alertID)
}

// ExecutionKey builds the blob key for an execution report:
// executions/{date}/{service_name}/{time}-{alert_id}.md.
func ExecutionKey(serviceName, alertID string, at time.Time) string {
	return fmt.Sprintf("executions/%s/%s/%s-%s.md",
		at.Format("2006-01-02"),
		pathSanitizer.Replace(serviceName),
		at.Format("15-04-05"),
		alertID)
}

// analysisMetadata builds the object metadata attached to analysis reports.
func analysisMetadata(a Alert) map[string]string {
	return map[string]string{
		"alert-id":     a.AlertID,
		"service-name": pathSanitizer.Replace(a.ServiceName),
		"service-type": a.ServiceType,
		"timestamp":    a.Timestamp.Format(time.RFC3339),
	}
}

// renderAnalysisReport formats the full analysis as the markdown document
// persisted to blob storage.
func renderAnalysisReport(a Alert, analysis string) []byte {
	var b strings.Builder
	b.WriteString("# AWS Service Analysis Report\n\n")
	fmt.Fprintf(&b, "**Alert ID:** %s  \n", a.AlertID)
	fmt.Fprintf(&b, "**Service/Resource:** %s  \n", a.ServiceName)
	fmt.Fprintf(&b, "**Service Type:** %s  \n", a.ServiceType)
	fmt.Fprintf(&b, "**Timestamp:** %s  \n", a.Timestamp.Format(time.RFC3339))
	b.WriteString("**Status:** ISSUE DETECTED\n\n---\n\n")
	b.WriteString(analysis)
	fmt.Fprintf(&b, "\n\n---\n\n*Generated by AWS CloudOps Agent*  \n*Report ID: %s*\n", a.AlertID)
	return []byte(b.String())
}

// renderExecutionReport formats a remediation run as the markdown document
// persisted to blob storage.
func renderExecutionReport(a Alert, res ExecutionResult, at time.Time) []byte {
	status := "✅ SUCCESS"
	if !res.Success {
		status = "❌ FAILED"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Execution Results: %s\n\n", a.ServiceName)
	fmt.Fprintf(&b, "**Alert ID:** `%s`\n", a.AlertID)
	fmt.Fprintf(&b, "**Execution Time:** %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Status:** %s\n\n---\n\n", status)
	fmt.Fprintf(&b, "## Execution Log\n\n```\n%s\n```\n\n---\n\n## Execution Summary\n\n", res.ExecutionLog)
	fmt.Fprintf(&b, "- **Total Actions:** %d\n", res.Summary.TotalActions)
	fmt.Fprintf(&b, "- **Successful:** %d ✅\n", res.Summary.Successful)
	fmt.Fprintf(&b, "- **Failed:** %d ❌\n", res.Summary.Failed)
	fmt.Fprintf(&b, "- **Skipped:** %d ⏭️\n\n", res.Summary.Skipped)
	if len(res.Actions) > 0 {
		b.WriteString("### Actions Performed\n\n")
		for _, act := range res.Actions {
			fmt.Fprintf(&b, "%s **%s**\n", actionIcon(act.Status), act.Description)
			fmt.Fprintf(&b, "   - Status: %s\n", act.Status)
			fmt.Fprintf(&b, "   - Time: %s\n\n", act.Timestamp.Format(time.RFC3339))
		}
	}
	b.WriteString("\n---\n\n*Execution completed by AWS CloudOps Agent*\n")
	return []byte(b.String())
}

func actionIcon(s ActionStatus) string {
	switch s {
	case ActionSuccess:
		return "✅"
	case ActionFailed:
		return "❌"
	case ActionSkipped:
		return "⏭️"
	default:
		return "❓"
	}
}

// analysisPrompt builds the structured analysis request sent to the agent
// when an alert is created. The required headings drive the summary
// extraction downstream.
func analysisPrompt(sig Signal, at time.Time) string {
	var extra strings.Builder
	if len(sig.AWSServices) > 0 {
		extra.WriteString("\n\n**Infrastructure Context:**\n")
		for i, svc := range sig.AWSServices {
			fmt.Fprintf(&extra, "%d. %s\n", i+1, svc)
		}
	}
	if sig.AdditionalInfo != "" {
		fmt.Fprintf(&extra, "\n**Additional Information:**\n%s\n", sig.AdditionalInfo)
	}
	return fmt.Sprintf(analysisPromptFormat, sig.ServiceName, at.Format(time.RFC3339), sig.ErrorDetails, extra.String())
}

const analysisPromptFormat = `URGENT: AWS Service monitoring alert requires immediate analysis.

**Incident Details:**
- Service/Resource: %s
- Status: ISSUE DETECTED
- Timestamp: %s
- Error: %s%s

**Analysis Requirements:**

1. **Executive Summary** (First 200 words)
   - Root cause in one sentence
   - Immediate impact assessment
   - Estimated time to resolve

2. **Detailed Investigation**
   - Check AWS service health status
   - Verify Route 53 DNS records and hosted zones
   - Validate CloudFront distribution configuration
   - Review ACM certificate status
   - Check S3 bucket configuration and permissions
   - Analyze CloudTrail for recent changes
   - Review CloudWatch logs and metrics

3. **Root Cause Analysis**
   - Primary issue identification
   - Contributing factors
   - Timeline of events

4. **Critical Findings** (Table format)
   - Component status (OK/WARNING/CRITICAL)
   - Specific issues found

5. **Immediate Actions Required** (Numbered list)
   - Specific AWS CLI/SDK commands to execute
   - Order of execution (dependencies)
   - Expected outcome for each action
   - Rollback steps if needed

6. **Prevention Recommendations**
   - Long-term fixes
   - Monitoring improvements
   - Architecture changes

**Output Format:** Use markdown with clear sections and tables.
**CRITICAL:** Ensure "IMMEDIATE ACTIONS REQUIRED" section contains executable steps with specific AWS API calls.
`

// executionAnalysisBound is how much of the stored analysis the execution
// prompt embeds so the agent acts on specifics without re-deriving them.
const executionAnalysisBound = 2000

// executionPrompt builds the remediation request sent to the agent once an
// alert is approved. It references the prior analysis to keep the agent on
// the approved plan.
func executionPrompt(serviceName, analysis string) string {
	return fmt.Sprintf(executionPromptFormat, serviceName, headRunes(analysis, executionAnalysisBound), serviceName)
}

const executionPromptFormat = `Based on our previous analysis of %s, I need you to execute the recommended remediation actions.

PREVIOUS ANALYSIS SUMMARY:
%s

EXECUTION INSTRUCTIONS:
Now that the analysis has been approved, please execute the following actions:

1. **Immediate Actions**: Execute any critical remediation steps identified in the analysis
2. **Configuration Changes**: Apply recommended configuration changes
3. **Verification**: Verify that each action completes successfully
4. **Rollback Plan**: Be prepared to rollback if any action fails
5. **Documentation**: Log all actions taken with timestamps

For each action, provide:
- Action taken
- Timestamp
- Status (Success/Failed/Skipped)
- Any errors or warnings
- Verification results

IMPORTANT:
- Only execute actions that were explicitly recommended in the analysis
- Use AWS APIs and CLI commands where appropriate
- Verify %s is accessible after each critical action
- Log all changes for audit purposes

Please proceed with execution and provide detailed results.
`
