package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Indiana/Indianapolis")
	if err != nil {
		panic(err)
	}
}

// force timezone to be on campus time because the collector may be
// deployed anywhere and day-of-week bucketing based on
// <time.Time>.Weekday()/Hour()/Minute() must stay stable across hosts
func Now() time.Time {
	return time.Now().In(Location)
}
