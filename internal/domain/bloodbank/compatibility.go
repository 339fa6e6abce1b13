package bloodbank

// compatibility maps a donor blood type to the recipient types that may
// receive it.
var compatibility = map[BloodType][]BloodType{
	ONeg:  {ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos},
	OPos:  {OPos, APos, BPos, ABPos},
	ANeg:  {ANeg, APos, ABNeg, ABPos},
	APos:  {APos, ABPos},
	BNeg:  {BNeg, BPos, ABNeg, ABPos},
	BPos:  {BPos, ABPos},
	ABNeg: {ABNeg, ABPos},
	ABPos: {ABPos},
}

// CanDonate reports whether blood of type donor may be given to recipient.
func CanDonate(donor, recipient BloodType) bool {
	for _, r := range compatibility[donor] {
		if r == recipient {
			return true
		}
	}
	return false
}

// CompatibleDonorTypes returns the donor types a recipient can receive, in
// BloodTypes order.
func CompatibleDonorTypes(recipient BloodType) []BloodType {
	var out []BloodType
	for _, d := range BloodTypes {
		if CanDonate(d, recipient) {
			out = append(out, d)
		}
	}
	return out
}
