package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/odyssey-erp/authzcore/internal/audit"
	"github.com/odyssey-erp/authzcore/internal/rbac"
	"github.com/odyssey-erp/authzcore/internal/workflow"
)

func runSeed(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	actorID := fs.Int64("actor", 0, "user id performing the sync (needs security.role.manage)")
	policyFile := fs.String("policy", e.cfg.RBACPolicyFile, "policy YAML file (embedded default when empty)")
	if ok, err := parseFlags(fs, e, args); !ok {
		return err
	}
	if *actorID <= 0 {
		return fmt.Errorf("seed: --actor is required")
	}
	policy, err := rbac.LoadPolicy(*policyFile)
	if err != nil {
		return err
	}
	rt, err := e.runtime(ctx)
	if err != nil {
		return err
	}
	actor, err := rt.RBAC.Principal(ctx, *actorID)
	if err != nil {
		return err
	}
	report, err := rt.RBAC.SyncPolicy(ctx, actor, policy)
	if err != nil {
		return err
	}
	e.notify(ctx, 0, "policy sync")
	fmt.Fprintf(e.out, "permissions=%d roles_created=%d granted=%d revoked=%d\n",
		report.Permissions, report.RolesCreated, report.Granted, report.Revoked)
	return nil
}

func runCheck(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	userID := fs.Int64("user", 0, "user id to evaluate")
	perms := fs.StringSlice("perm", nil, "permission code (repeatable)")
	if ok, err := parseFlags(fs, e, args); !ok {
		return err
	}
	if *userID <= 0 || len(*perms) == 0 {
		return fmt.Errorf("check: --user and --perm are required")
	}
	rt, err := e.runtime(ctx)
	if err != nil {
		return err
	}
	principal, err := rt.RBAC.Principal(ctx, *userID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tALLOWED\tGRANT\tREASON")
	for _, code := range *perms {
		decision, err := rt.Authz.Authorizer.Authorize(ctx, principal, code)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", decision.Code, decision.Allowed, dash(string(decision.Grant)), dash(string(decision.Reason)))
	}
	return tw.Flush()
}

func runAssign(ctx context.Context, e *env, args []string) error {
	return roleMembership(ctx, e, "assign", args)
}

func runRevoke(ctx context.Context, e *env, args []string) error {
	return roleMembership(ctx, e, "revoke", args)
}

func roleMembership(ctx context.Context, e *env, name string, args []string) error {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	actorID := fs.Int64("actor", 0, "user id performing the change (needs security.role.assign)")
	userID := fs.Int64("user", 0, "target user id")
	roleID := fs.Int64("role", 0, "role id")
	if ok, err := parseFlags(fs, e, args); !ok {
		return err
	}
	if *actorID <= 0 || *userID <= 0 || *roleID <= 0 {
		return fmt.Errorf("%s: --actor, --user and --role are required", name)
	}
	rt, err := e.runtime(ctx)
	if err != nil {
		return err
	}
	actor, err := rt.RBAC.Principal(ctx, *actorID)
	if err != nil {
		return err
	}
	if name == "assign" {
		err = rt.RBAC.AssignRole(ctx, actor, *userID, *roleID)
	} else {
		err = rt.RBAC.RevokeRole(ctx, actor, *userID, *roleID)
	}
	if err != nil {
		return err
	}
	e.notify(ctx, *userID, "role "+name)
	fmt.Fprintf(e.out, "%s role %d for user %d\n", name, *roleID, *userID)
	return nil
}

func runVerify(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	strict := fs.Bool("strict", false, "fail when a mapped code is not read-only")
	if ok, err := parseFlags(fs, e, args); !ok {
		return err
	}
	rt, err := e.runtime(ctx)
	if err != nil {
		return err
	}
	fallback := rt.Authz.Fallback
	for _, code := range fallback.Codes() {
		legacyID, _ := fallback.Lookup(code)
		fmt.Fprintf(e.out, "%s -> %s\n", code, legacyID)
	}
	for _, warning := range rt.Authz.Warnings {
		fmt.Fprintf(e.out, "warning: %s\n", warning)
	}
	if *strict && len(rt.Authz.Warnings) > 0 {
		return fmt.Errorf("verify: %d fallback entries are not read-only", len(rt.Authz.Warnings))
	}
	fmt.Fprintf(e.out, "fallback map ok: %d entries\n", fallback.Len())
	return nil
}

type timelineOptions struct {
	from     string
	to       string
	actorID  int64
	entity   string
	entityID string
	action   string
	outcome  string
	page     int
	pageSize int
	csvPath  string
}

func (o timelineOptions) filters() (audit.TimelineFilters, error) {
	from, err := parseTime(o.from)
	if err != nil {
		return audit.TimelineFilters{}, fmt.Errorf("timeline: --from: %w", err)
	}
	to, err := parseTime(o.to)
	if err != nil {
		return audit.TimelineFilters{}, fmt.Errorf("timeline: --to: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return audit.TimelineFilters{}, fmt.Errorf("timeline: --to is before --from")
	}
	return audit.TimelineFilters{
		From:     from,
		To:       to,
		ActorID:  o.actorID,
		Entity:   o.entity,
		EntityID: o.entityID,
		Action:   o.action,
		Outcome:  o.outcome,
		Page:     o.page,
		PageSize: o.pageSize,
	}, nil
}

func runTimeline(ctx context.Context, e *env, args []string) error {
	var opts timelineOptions
	fs := pflag.NewFlagSet("timeline", pflag.ContinueOnError)
	fs.StringVar(&opts.from, "from", "", "start (RFC3339 or YYYY-MM-DD)")
	fs.StringVar(&opts.to, "to", "", "end (RFC3339 or YYYY-MM-DD)")
	fs.Int64Var(&opts.actorID, "actor", 0, "filter by actor id")
	fs.StringVar(&opts.entity, "entity", "", "filter by entity")
	fs.StringVar(&opts.entityID, "entity-id", "", "filter by entity id")
	fs.StringVar(&opts.action, "action", "", "filter by action")
	fs.StringVar(&opts.outcome, "outcome", "", "filter by outcome (ALLOWED, APPLIED, DENIED, REJECTED)")
	fs.IntVar(&opts.page, "page", 1, "page number")
	fs.IntVar(&opts.pageSize, "page-size", 20, "rows per page")
	fs.StringVar(&opts.csvPath, "csv", "", "export every matching row as CSV to this file ('-' for stdout)")
	if ok, err := parseFlags(fs, e, args); !ok {
		return err
	}
	filters, err := opts.filters()
	if err != nil {
		return err
	}
	rt, err := e.runtime(ctx)
	if err != nil {
		return err
	}

	if opts.csvPath != "" {
		out := e.out
		if opts.csvPath != "-" {
			f, err := os.Create(opts.csvPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		n, err := rt.Audit.ExportTimeline(ctx, out, filters)
		if err != nil {
			return err
		}
		if opts.csvPath != "-" {
			fmt.Fprintf(e.out, "exported %d rows to %s\n", n, opts.csvPath)
		}
		return nil
	}

	result, err := rt.Audit.Timeline(ctx, filters)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tACTOR\tACTION\tENTITY\tOUTCOME\tREASON")
	for _, row := range result.Rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			row.At.Format(time.RFC3339), row.ActorID, row.Action,
			strings.TrimSuffix(row.Entity+":"+row.EntityID, ":"), row.Outcome, dash(row.Reason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if result.Paging.HasNext {
		fmt.Fprintf(e.out, "more rows: --page %d\n", result.Paging.NextPage)
	}
	return nil
}

func runApply(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("apply", pflag.ContinueOnError)
	actorID := fs.Int64("actor", 0, "user id performing the transition")
	action := fs.String("action", "", "workflow action ("+strings.Join(actionNames(), ", ")+")")
	entityID := fs.Int64("id", 0, "document or movement id")
	reason := fs.String("reason", "", "reason recorded with cancellations and voids")
	if ok, err := parseFlags(fs, e, args); !ok {
		return err
	}
	if *actorID <= 0 || *entityID <= 0 {
		return fmt.Errorf("apply: --actor and --id are required")
	}
	if _, ok := workflow.Permission(workflow.Action(*action)); !ok {
		return fmt.Errorf("apply: %q: %w", *action, workflow.ErrUnknownAction)
	}
	rt, err := e.runtime(ctx)
	if err != nil {
		return err
	}
	actor, err := rt.RBAC.Principal(ctx, *actorID)
	if err != nil {
		return err
	}
	result, err := rt.Dispatcher.Apply(ctx, actor, workflow.Request{
		Action:   workflow.Action(*action),
		EntityID: *entityID,
		Reason:   *reason,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s %d -> %s\n", result.Action, result.EntityID, result.Status)
	return nil
}

func actionNames() []string {
	actions := workflow.Actions()
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	return names
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
