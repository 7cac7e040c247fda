package zipfile

import "time"

// MSDOSTimeToTime converts an MS-DOS date and time into a time.Time in UTC.
// The resolution is 2s.
// See: https://learn.microsoft.com/en-us/windows/win32/api/winbase/nf-winbase-dosdatetimetofiletime
func MSDOSTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}

// TimeToMSDOSTime converts a time.Time to its MS-DOS date and time encoding.
//
// The encoding can only represent 1980-2107 at 2-second resolution; out-of-range times silently wrap.
func TimeToMSDOSTime(t time.Time) (dosDate, dosTime uint16) {
	t = t.UTC()
	dosDate = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	dosTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return
}
