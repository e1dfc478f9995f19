// Package commission вычисляет комиссию платформы по уровню исполнителя.
package commission

import "math"

// Tier — уровень репутации исполнителя.
type Tier string

const (
	TierBronze  Tier = "Bronze"
	TierSilver  Tier = "Silver"
	TierGold    Tier = "Gold"
	TierDiamond Tier = "Diamond"
)

// threshold задаёт нижнюю границу уровня и его ставку.
type threshold struct {
	minJobs int
	tier    Tier
	rate    float64
}

// Пороги по убыванию: первый подходящий выигрывает.
var thresholds = []threshold{
	{200, TierDiamond, 0.08},
	{50, TierGold, 0.10},
	{10, TierSilver, 0.12},
	{0, TierBronze, 0.15},
}

// RateFor возвращает уровень и ставку комиссии по числу завершённых сделок.
// Функция чистая и детерминированная; вызывается строго в момент релиза
// средств, а не при создании сделки: исполнитель мог вырасти в уровне,
// пока сделка была в custody, и получает ставку текущего уровня.
func RateFor(completedJobs int) (Tier, float64) {
	if completedJobs < 0 {
		completedJobs = 0
	}
	for _, t := range thresholds {
		if completedJobs >= t.minJobs {
			return t.tier, t.rate
		}
	}
	return TierBronze, 0.15
}

// Net возвращает сумму к выплате исполнителю после удержания комиссии,
// округлённую до копеек.
func Net(gross, rate float64) float64 {
	return RoundMoney(gross * (1 - rate))
}

// Fee возвращает удержанную комиссию так, что Net + Fee == gross точно.
func Fee(gross, rate float64) float64 {
	return RoundMoney(gross - Net(gross, rate))
}

// RoundMoney округляет сумму до двух знаков.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
