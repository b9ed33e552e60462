package models

// DefaultUniverse is the starting candidate list written by the seed command.
func DefaultUniverse() []CandidateStock {
	return []CandidateStock{
		{Symbol: "SYS", Name: "Systems Limited", Sector: "Technology", Tier: TierCore, TargetWeight: 0.10, Fundamentals: Fundamentals{PE: 12, FairValue: 150, Growth: 20}, Active: true},
		{Symbol: "PSX", Name: "Pakistan Stock Exchange", Sector: "Financials", Tier: TierCore, TargetWeight: 0.10, Fundamentals: Fundamentals{PE: 8.5, FairValue: 45, Growth: 15}, Active: true},
		{Symbol: "MEBL", Name: "Meezan Bank", Sector: "Banking", Tier: TierCore, TargetWeight: 0.10, Fundamentals: Fundamentals{PE: 6, FairValue: 200, Yield: 8}, Active: true},
		{Symbol: "LUCK", Name: "Lucky Cement", Sector: "Cement", Tier: TierCore, TargetWeight: 0.08, Fundamentals: Fundamentals{PE: 7.5, FairValue: 750, Growth: 10}, Active: true},
		{Symbol: "OGDC", Name: "Oil & Gas Development Co", Sector: "Energy", Tier: TierCore, TargetWeight: 0.08, Fundamentals: Fundamentals{PE: 4.5, FairValue: 150, Yield: 12}, Active: true},
		{Symbol: "JSBL", Name: "JS Bank", Sector: "Banking", Tier: TierStability, TargetWeight: 0.05, Fundamentals: Fundamentals{PE: 5, FairValue: 20, Growth: 15}, Active: true},
		{Symbol: "ZAL", Name: "Zil Limited", Sector: "Consumer", Tier: TierStability, TargetWeight: 0.05, Fundamentals: Fundamentals{PE: 8, FairValue: 50, Growth: 18}, Active: true},
		{Symbol: "SAZEW", Name: "Sazgar Engineering", Sector: "Automobile", Tier: TierStability, TargetWeight: 0.05, Fundamentals: Fundamentals{PE: 7, FairValue: 1600, Growth: 25}, Active: true},
		{Symbol: "MARI", Name: "Mari Petroleum", Sector: "Energy", Tier: TierStability, TargetWeight: 0.05, Fundamentals: Fundamentals{PE: 5.5, FairValue: 800, Yield: 10}, Active: true},
		{Symbol: "BAFL", Name: "Bank Alfalah", Sector: "Banking", Tier: TierStability, TargetWeight: 0.05, Fundamentals: Fundamentals{PE: 4, FairValue: 110, Yield: 11}, Active: true},
		{Symbol: "FFC", Name: "Fauji Fertilizer", Sector: "Fertilizer", Tier: TierDividend, TargetWeight: 0.05, Fundamentals: Fundamentals{PE: 6.5, FairValue: 500, Yield: 11}, Active: true},
		{Symbol: "ENGROH", Name: "Engro Holdings", Sector: "Conglomerate", Tier: TierDividend, TargetWeight: 0.05, Fundamentals: Fundamentals{PE: 7, FairValue: 230, Yield: 9}, Active: true},
		{Symbol: "EFERT", Name: "Engro Fertilizers", Sector: "Fertilizer", Tier: TierDividend, TargetWeight: 0.05, Fundamentals: Fundamentals{PE: 6.8, FairValue: 220, Yield: 10}, Active: true},
		{Symbol: "TPLP", Name: "TPL Properties", Sector: "Real Estate", Tier: TierOptional, TargetWeight: 0.03, Fundamentals: Fundamentals{PE: 15, FairValue: 15, Growth: 30}, Active: true},
		{Symbol: "DCR", Name: "Dolmen City REIT", Sector: "REIT", Tier: TierOptional, TargetWeight: 0.03, Fundamentals: Fundamentals{PE: 10, FairValue: 40, Yield: 7}, Active: true},
	}
}
