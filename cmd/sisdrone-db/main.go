// SisDrone Database CLI Tool
// Provides command-line access to the field agent database
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/sisdrone/field-controller/internal/cost"
	"github.com/sisdrone/field-controller/internal/geo"
	"github.com/sisdrone/field-controller/internal/health"
	"github.com/sisdrone/field-controller/internal/storage"
)

var (
	dbPath  string
	rootCmd = &cobra.Command{
		Use:   "sisdrone-db",
		Short: "SisDrone Database CLI",
		Long:  "Command-line tool for inspecting the SisDrone field agent database.",
	}

	polesCmd = &cobra.Command{
		Use:   "poles",
		Short: "List cached poles",
		RunE:  listPoles,
	}

	inspectionsCmd = &cobra.Command{
		Use:   "inspections [pole-id]",
		Short: "Show inspections for a pole",
		Args:  cobra.ExactArgs(1),
		RunE:  showInspections,
	}

	queueCmd = &cobra.Command{
		Use:   "queue",
		Short: "Show queued offline mutations",
		RunE:  showQueue,
	}

	materialsCmd = &cobra.Command{
		Use:   "materials",
		Short: "Show the materials catalog",
		RunE:  showMaterials,
	}

	predictCmd = &cobra.Command{
		Use:   "predict [pole-id]",
		Short: "Project remaining service life for a pole",
		Args:  cobra.ExactArgs(1),
		RunE:  predictPole,
	}

	costCmd = &cobra.Command{
		Use:   "cost [plan-text]",
		Short: "Estimate the cost of a maintenance plan",
		Args:  cobra.ExactArgs(1),
		RunE:  estimateCost,
	}

	utmCmd = &cobra.Command{
		Use:   "utm [lat] [lng]",
		Short: "Convert WGS84 coordinates to UTM",
		Args:  cobra.ExactArgs(2),
		RunE:  convertUTM,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE:  showStats,
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw SQL query",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}

	limit int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/sisdrone/agent.db", "Database file path")

	inspectionsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	rootCmd.AddCommand(polesCmd)
	rootCmd.AddCommand(inspectionsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(materialsCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(utmCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*storage.DB, error) {
	return storage.Open(dbPath)
}

func listPoles(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	poles, err := db.ListPoles()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMATERIAL\tINSTALLED\tAHI\tLAT\tLNG")
	for _, p := range poles {
		installed := "-"
		if !p.InstalledAt.IsZero() {
			installed = p.InstalledAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%.5f\t%.5f\n",
			p.ID, p.Name, p.Material, installed, p.AHIScore, p.Lat, p.Lng)
	}
	return w.Flush()
}

func showInspections(cmd *cobra.Command, args []string) error {
	poleID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid pole id: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	inspections, err := db.ListInspections(poleID, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONDITION\tCONFIDENCE\tDATE\tSUMMARY")
	for _, i := range inspections {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%s\t%s\n",
			i.ID, i.Condition, i.Confidence, i.CreatedAt.Format(time.RFC3339), i.Summary)
	}
	return w.Flush()
}

func showQueue(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	mutations, err := db.ListMutations()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMETHOD\tURL\tCAPTURED\tATTEMPTS\tLAST ERROR")
	for _, m := range mutations {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			m.ID, m.Method, m.URL, m.CreatedAt.Format(time.RFC3339), m.Attempts, m.LastError)
	}
	return w.Flush()
}

func showMaterials(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	materials, err := db.ListMaterials()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUNIT PRICE\tMATCH KEYS")
	for _, m := range materials {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%s\n", m.ID, m.Name, m.UnitPrice, m.MatchKeys)
	}
	return w.Flush()
}

func predictPole(cmd *cobra.Command, args []string) error {
	poleID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid pole id: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	pole, err := db.GetPole(poleID)
	if err != nil {
		return fmt.Errorf("pole %d not found: %w", poleID, err)
	}

	p := health.PredictLifespan(pole, time.Now())

	fmt.Printf("Pole %d (%s, material %q, AHI %d)\n", pole.ID, pole.Name, pole.Material, pole.AHIScore)
	fmt.Printf("  Decay rate:      %.2f points/year\n", p.DecayRate)
	fmt.Printf("  Years remaining: %.1f\n", p.YearsRemaining)
	fmt.Printf("  Estimated EOL:   %s\n", p.EstimatedEOLDate.Format("2006-01-02"))
	fmt.Printf("  Confidence:      %.2f\n", p.Confidence)
	fmt.Println("  Trend:")
	for _, h := range p.HealthHistory {
		fmt.Printf("    %d\t%d\n", h.Year, h.Score)
	}
	return nil
}

func estimateCost(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	materials, err := db.ListMaterials()
	if err != nil {
		return err
	}

	total := cost.EstimatePlan(args[0], materials)
	fmt.Printf("Estimated cost (materials + 40%% labor): R$ %.2f\n", total)
	return nil
}

func convertUTM(cmd *cobra.Command, args []string) error {
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid longitude: %w", err)
	}

	utm := geo.DegreesToUTM(lat, lng)
	out, _ := json.MarshalIndent(utm, "", "  ")
	fmt.Println(string(out))
	return nil
}

func showStats(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.GetStats()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Poles cached\t%d\n", stats.Poles)
	fmt.Fprintf(w, "Inspections\t%d\n", stats.Inspections)
	fmt.Fprintf(w, "Queued mutations\t%d\n", stats.Queued)
	return w.Flush()
}

func executeQuery(cmd *cobra.Command, args []string) error {
	conn, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, err := conn.Query(args[0])
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(cols, "\t")))

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		parts := make([]string, len(cols))
		for i, v := range values {
			switch val := v.(type) {
			case nil:
				parts[i] = "NULL"
			case []byte:
				parts[i] = string(val)
			default:
				parts[i] = fmt.Sprintf("%v", val)
			}
		}
		fmt.Fprintln(w, strings.Join(parts, "\t"))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return w.Flush()
}
