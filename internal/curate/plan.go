package curate

import "welletl/internal/storage"

// Kind is the target type of a curated field.
type Kind int

const (
	Text Kind = iota
	Int
	Float
	Date
	Lat
	Lon
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Int:
		return "int"
	case Float:
		return "float"
	case Date:
		return "date"
	case Lat:
		return "lat"
	case Lon:
		return "lon"
	default:
		return "unknown"
	}
}

// Field maps one curated column to the source headers that may carry it.
//
// Candidates are known header spellings, most specific first. A Text field
// may instead list Parts: each part is its own candidate list, and the
// non-empty part values are joined with ", " (address = street, city, zip).
type Field struct {
	Column     string
	Kind       Kind
	Candidates []string
	Parts      [][]string
}

// Sequence describes the second key column of a child table. When no
// candidate resolves, or a row leaves it empty, a 1-based counter per parent
// identifier in file order is used instead.
type Sequence struct {
	Column     string
	Candidates []string
}

// Step loads one source file into one curated table.
type Step struct {
	File   string
	Table  string
	Mode   storage.LoadMode
	IDKey  string
	ID     []string
	Seq    *Sequence
	Fields []Field
}

// Spec returns the table spec the step writes through.
func (s Step) Spec() storage.TableSpec {
	key := []string{s.IDKey}
	if s.Seq != nil {
		key = append(key, s.Seq.Column)
	}
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Column
	}
	return storage.TableSpec{Name: s.Table, Key: key, Columns: cols, Mode: s.Mode}
}

var (
	trackingIDs = []string{"TrackingNumber", "ReportTrackingNumber", "TRK_NO", "WellReportTrackingNumber"}
	latitudes   = []string{"CoordDDLat", "Latitude", "LatitudeDD", "LatDD", "Lat", "WellLatitude"}
	longitudes  = []string{"CoordDDLong", "Longitude", "LongitudeDD", "LongDD", "Lon", "WellLongitude"}
)

// DefaultPlan is the fixed load order for the driller report export plus
// the groundwater database well file: primary entities first, then the
// enrichment that fills their nulls, then child tables.
func DefaultPlan() []Step {
	return []Step{
		{
			File:  "WellData.txt",
			Table: "well_reports", Mode: storage.ModeOverwrite,
			IDKey: "id", ID: trackingIDs,
			Fields: []Field{
				{Column: "owner_name", Kind: Text, Candidates: []string{"OwnerName", "Owner"}},
				{Column: "address", Kind: Text, Parts: [][]string{
					{"StreetAddress", "Address", "Addr1", "Street"},
					{"City"},
					{"Zip", "ZIP"},
				}},
				{Column: "county", Kind: Text, Candidates: []string{"County", "CountyName"}},
				{Column: "lat", Kind: Lat, Candidates: latitudes},
				{Column: "lon", Kind: Lon, Candidates: longitudes},
			},
		},
		{
			File:  "WellMain.txt",
			Table: "gwdb_wells", Mode: storage.ModeOverwrite,
			IDKey: "id", ID: []string{"StateWellNumber", "StateWellNo", "WellNumber", "WellId"},
			Fields: []Field{
				{Column: "county", Kind: Text, Candidates: []string{"County", "CountyName"}},
				{Column: "total_depth_ft", Kind: Int, Candidates: []string{"WellDepth", "TotalDepth", "Depth"}},
				{Column: "aquifer", Kind: Text, Candidates: []string{"AquiferCode", "Aquifer", "AquiferName"}},
				{Column: "lat", Kind: Lat, Candidates: latitudes},
				{Column: "lon", Kind: Lon, Candidates: longitudes},
			},
		},
		{
			File:  "WellCompletion.txt",
			Table: "well_reports", Mode: storage.ModeFillNull,
			IDKey: "id", ID: trackingIDs,
			Fields: []Field{
				{Column: "depth_ft", Kind: Int, Candidates: []string{"TotalDepth", "CompletionDepth", "Depth"}},
				{Column: "date_completed", Kind: Date, Candidates: []string{"CompletionDate", "CompletedDate", "DateCompleted"}},
			},
		},
		{
			File:  "WellBoreHole.txt",
			Table: "well_boreholes", Mode: storage.ModeInsertIgnore,
			IDKey: "sdr_id", ID: trackingIDs,
			Seq: &Sequence{Column: "borehole_no", Candidates: []string{"BoreHoleNo", "BoreholeNo", "BoreHoleNumber", "SeqNo", "Sequence"}},
			Fields: []Field{
				{Column: "start_depth_ft", Kind: Float, Candidates: []string{"StartDepth", "StartDepthFt", "FromDepth", "TopDepth"}},
				{Column: "end_depth_ft", Kind: Float, Candidates: []string{"EndDepth", "EndDepthFt", "ToDepth", "BottomDepth"}},
				{Column: "diameter_in", Kind: Float, Candidates: []string{"Diameter", "DiameterIn", "BoreDiameter"}},
				{Column: "notes", Kind: Text, Candidates: []string{"Notes", "Remarks"}},
			},
		},
		{
			File:  "WellCasing.txt",
			Table: "well_casings", Mode: storage.ModeInsertIgnore,
			IDKey: "sdr_id", ID: trackingIDs,
			Seq: &Sequence{Column: "casing_no", Candidates: []string{"CasingNo", "CasingNumber", "SeqNo", "Sequence"}},
			Fields: []Field{
				{Column: "top_ft", Kind: Float, Candidates: []string{"TopDepth", "Top", "TopFt"}},
				{Column: "bottom_ft", Kind: Float, Candidates: []string{"BottomDepth", "Bottom", "BottomFt"}},
				{Column: "diameter_in", Kind: Float, Candidates: []string{"Diameter", "DiameterIn"}},
				{Column: "material", Kind: Text, Candidates: []string{"Material", "CasingMaterial"}},
			},
		},
		{
			File:  "WellFilter.txt",
			Table: "well_filters", Mode: storage.ModeInsertIgnore,
			IDKey: "sdr_id", ID: trackingIDs,
			Seq: &Sequence{Column: "filter_no", Candidates: []string{"FilterNo", "FilterNumber", "SeqNo", "Sequence"}},
			Fields: []Field{
				{Column: "top_ft", Kind: Float, Candidates: []string{"TopDepth", "Top", "TopFt"}},
				{Column: "bottom_ft", Kind: Float, Candidates: []string{"BottomDepth", "Bottom", "BottomFt"}},
				{Column: "size", Kind: Text, Candidates: []string{"Size", "SlotSize", "FilterSize"}},
				{Column: "material", Kind: Text, Candidates: []string{"Material", "FilterMaterial"}},
			},
		},
	}
}
