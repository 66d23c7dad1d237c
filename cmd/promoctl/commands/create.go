package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"raceops-backend/lib/scrapers/myrace"
	"raceops-backend/services/promo"
)

var createFlags struct {
	race       string
	couponType string
	discount   int
	deduction  int
	usageLimit int
	slotValue  string
	fields     []string
	dryRun     bool
	generate   int
	prefix     string
	length     int
}

func init() {
	f := createCmd.Flags()
	f.StringVar(&createFlags.race, "race", "", "race id (defaults to the selected race)")
	f.StringVar(&createFlags.couponType, "type", "", "coupon type name, '|' separates alternates (defaults to MYRACE_COUPON_TYPE)")
	f.IntVar(&createFlags.discount, "discount", 100, "discount percentage")
	f.IntVar(&createFlags.deduction, "deduction", 0, "fixed deduction, leave 0 for percentage coupons")
	f.IntVar(&createFlags.usageLimit, "usage-limit", 0, "maximum uses per code (defaults to MYRACE_USAGE_LIMIT)")
	f.StringVar(&createFlags.slotValue, "slot-value", "", "slot field value, 'all' selects every option (defaults to MYRACE_SLOT_VALUE)")
	f.StringArrayVar(&createFlags.fields, "field", nil, "manual field override, name=value, repeatable")
	f.BoolVar(&createFlags.dryRun, "dry-run", false, "resolve the form and show the payload without submitting")
	f.IntVar(&createFlags.generate, "generate", 0, "generate this many random codes instead of taking them as args")
	f.StringVar(&createFlags.prefix, "prefix", "", "prefix for generated codes")
	f.IntVar(&createFlags.length, "length", 8, "random part length for generated codes")
	rootCmd.AddCommand(createCmd)
}

var createCmd = &cobra.Command{
	Use:   "create [codes...]",
	Short: "Creates promo codes from the race's discovered creation form.",
	Run: func(cmd *cobra.Command, args []string) {
		raceID := resolveRaceIDInt(createFlags.race)

		codes := args
		if createFlags.generate > 0 {
			generated, err := promo.GenerateCodes(createFlags.prefix, createFlags.generate, createFlags.length)
			if err != nil {
				fatal(err)
			}
			codes = append(codes, generated...)
		}
		if len(codes) == 0 {
			fatal(fmt.Errorf("no codes given, pass them as arguments or use --generate"))
		}

		overrides, err := myrace.ParseFieldOverrides(createFlags.fields)
		if err != nil {
			fatal(err)
		}

		couponType := createFlags.couponType
		if couponType == "" {
			couponType = env.CouponType
		}
		slotValue := createFlags.slotValue
		if slotValue == "" {
			slotValue = env.SlotValue
		}
		usageLimit := createFlags.usageLimit
		if usageLimit == 0 {
			usageLimit = env.UsageLimit
		}

		template := myrace.CouponRequest{
			Type:       couponType,
			Discount:   createFlags.discount,
			Deduction:  createFlags.deduction,
			UsageLimit: usageLimit,
			SlotValue:  slotValue,
			Overrides:  overrides,
			DryRun:     createFlags.dryRun,
		}

		entries := promoSvc.CreateBatch(cmd.Context(), raceID, codes, template)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Code", "Status", "Actual code", "Detail"})

		failed := 0
		for _, entry := range entries {
			status := "created"
			detail := ""
			switch {
			case entry.Err != nil:
				status = "failed"
				detail = entry.Err.Error()
				failed++
			case createFlags.dryRun:
				status = "dry-run"
				detail = entry.Result.Values.Encode()
			}
			if len(entry.Result.Missing) > 0 {
				detail = fmt.Sprintf("required fields left empty: %v; %s", entry.Result.Missing, detail)
			}
			t.AppendRow(table.Row{entry.Code, status, entry.Result.ActualCode, detail})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()

		if failed > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d codes failed\n", failed, len(entries))
			os.Exit(1)
		}
	},
}
