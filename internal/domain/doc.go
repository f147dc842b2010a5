// Package domain models the Canadian weather-file catalog and the pure logic
// used to reconcile it against the remote source.
//
// # Data Source
//
// Weather files are published by climate.onebuilding.org as Apache-style
// directory listings. Two listings are mirrored:
//
//	historic: .../WMO_Region_4_North_and_Central_America/CAN_Canada/
//	future:   .../WMO_Region_4_North_and_Central_America/CAN_Canada_Future/
//
// Each country listing links to one sub-directory per province or territory
// (e.g. "AB_Alberta/"), which in turn links to the files. The historic
// listing uses plain href attributes; the future listing renders its links
// through JavaScript and carries the relative path in the title attribute.
//
// # Filename Conventions
//
// Files are named "<stem>.<ext>", where the stem encodes country, province,
// station name, WMO number, and dataset variant:
//
//	CAN_AB_Athabasca.AgCM.712710_TMYx.2004-2018.zip
//	CAN_NL_Deer.Lake.Rgnl.AP.718090_NRCv12022_TRY_MaxTemp_GW0.5.zip
//
// The stem is used as the station identifier. Future-scenario variants of one
// physical station (warming levels, TMY vs TRY) are therefore distinct
// stations, while the .epw/.ddy/.stat/.zip payloads of one dataset share a
// directory.
//
// File kinds are derived from the extension (case-insensitive):
//
//	.epw  → epw   (EnergyPlus weather)
//	.ddy  → ddy   (design days)
//	.stat → stat  (climate statistics)
//	.zip  → other (bundle of the above)
//
// Payload contents are opaque; nothing in this module parses them.
//
// # Reconciliation Policy
//
// An entry is identified by its (station, category, kind) key. When the
// remote locator of a known key changes, the entry is removed and re-added
// rather than overwritten, so the change is visible in the run summary.
// Files of removed entries are unindexed but never deleted from disk.
package domain
