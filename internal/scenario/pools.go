package scenario

var FirstNames = []string{
	"Sarah", "David", "Jennifer", "Mike", "Amanda", "Robert", "Karen",
	"James", "Lisa", "Marcus", "Rachel", "Tony", "Priya", "Chris",
	"Nicole", "Daniel", "Maria", "Kevin", "Ashley", "Brian", "Tina",
	"Steven", "Laura", "Jason", "Emily", "Carlos", "Stephanie", "Derek",
	"Angela", "Ryan", "Michelle", "Andre", "Katherine", "Eric", "Diana",
	"Patrick", "Samantha", "Victor", "Heather", "Nathan", "Teresa",
	"Alex", "Vanessa", "Greg", "Christina", "Tyler", "Rebecca", "Omar",
}

var LastNames = []string{
	"Chen", "Park", "Mitchell", "Torres", "Foster", "Kim", "Wright",
	"Liu", "Johnson", "Patel", "Garcia", "Thompson", "Nakamura", "Lee",
	"Williams", "Rodriguez", "Brown", "Martinez", "Davis", "Wilson",
	"Anderson", "Taylor", "Thomas", "Jackson", "White", "Harris", "Clark",
	"Lewis", "Robinson", "Walker", "Young", "King", "Scott", "Green",
	"Adams", "Baker", "Hall", "Rivera", "Campbell", "Gonzalez", "Murphy",
	"Sharma", "O'Brien", "Reeves", "Hoffman", "Nguyen", "Sullivan",
}

var Brokerages = []string{
	"Compass", "Keller Williams", "Coldwell Banker", "Sotheby's International",
	"RE/MAX", "eXp Realty", "Century 21", "Berkshire Hathaway HomeServices",
	"Douglas Elliman", "Redfin", "Side Real Estate", "Engel & Volkers",
	"The Agency", "Corcoran", "Christie's International", "Intero Real Estate",
	"Sereno", "Vanguard Properties", "Pacific Union", "Windermere",
}

var Cities = []string{
	"San Francisco", "Oakland", "San Jose", "Palo Alto", "Walnut Creek",
	"Berkeley", "Fremont", "Pleasanton", "Danville", "Saratoga",
	"Los Gatos", "Menlo Park", "Atherton", "Hillsborough", "Tiburon",
	"Mill Valley", "San Mateo", "Burlingame", "Redwood City", "Mountain View",
	"Sunnyvale", "Campbell", "Cupertino", "Livermore", "Dublin",
	"San Ramon", "Lafayette", "Orinda", "Moraga", "Piedmont",
}

var Personalities = []string{
	"Impatient and direct: wants answers fast, doesn't like small talk",
	"Friendly and chatty: easy to talk to but hard to keep on track",
	"Analytical and detail-oriented: asks a lot of questions, needs data",
	"Skeptical and guarded: been burned before, needs proof not promises",
	"Enthusiastic but indecisive: loves everything but can't commit",
	"Passive-aggressive: says 'it's fine' but clearly isn't happy",
	"Confident and assertive: knows what they want, respects competence",
	"Apologetic and accommodating: doesn't want to be a bother",
	"Price-focused: everything comes back to cost",
	"Relationship-driven: values trust and personal connection over everything",
	"Busy and distracted: keeps cutting you off, checking other things",
	"New to real estate: doesn't know industry terms, needs hand-holding",
}

var PropertyTypes = []string{
	"single-family home", "condo", "townhouse", "luxury estate",
	"multi-unit property", "new construction", "fixer-upper",
	"mid-century modern", "Victorian", "contemporary",
}

var SquareFootages = []string{
	"1,200", "1,500", "1,800", "2,000", "2,200", "2,500", "2,800",
	"3,000", "3,200", "3,500", "3,800", "4,000", "4,500", "5,000",
	"5,500", "6,000", "7,000", "8,000",
}

var ListingPrices = []string{
	"$800K", "$950K", "$1.1M", "$1.3M", "$1.5M", "$1.8M", "$2M",
	"$2.2M", "$2.5M", "$2.8M", "$3M", "$3.5M", "$4M", "$4.5M", "$5M",
}
