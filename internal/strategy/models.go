package strategy

// 打分阈值
const (
	// MinTrainingRows 特征行数严格大于该值时才训练分类器
	MinTrainingRows = 20

	ClassifierBuyThreshold  = 0.55
	ClassifierSellThreshold = 0.45

	// HeuristicWeight 启发式打分中每一项的权重
	HeuristicWeight    = 0.2
	HeuristicThreshold = 0.1
)
