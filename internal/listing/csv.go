package listing

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// CSVHeader is the column order of exported directory files.
var CSVHeader = []string{
	"Name",
	"Straße",
	"Hausnummer",
	"PLZ",
	"Ort",
	"Bundesland",
	"Telefon",
	"E-Mail",
	"Website",
	"Breitengrad",
	"Längengrad",
	"Quelle",
}

// WriteCSV writes listings with a header row.
func WriteCSV(w io.Writer, listings []Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range listings {
		record := []string{
			l.Name,
			l.Street,
			l.HouseNumber,
			l.PostalCode,
			l.City,
			l.State,
			l.Phone,
			l.Email,
			l.Website,
			strconv.FormatFloat(l.Lat, 'f', 6, 64),
			strconv.FormatFloat(l.Lon, 'f', 6, 64),
			l.SourceRef,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", l.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
